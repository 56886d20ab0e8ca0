package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/shopspring/decimal"
)

const connectTimeout = 30 * time.Second

// Device denotes the functionality of a scale required by the API
type Device interface {
	scale.Sensor
	scale.Connector
}

// StatusResponse denotes the connection status of the scale
type StatusResponse struct {
	Name         string  `json:"name"`
	UniqueID     string  `json:"unique_id"`
	State        string  `json:"state"`
	Available    bool    `json:"available"`
	Error        string  `json:"error,omitempty"`
	ConnectedFor float64 `json:"connected_for_seconds"`
}

// WeightResponse denotes the last stable weight reported by the scale
type WeightResponse struct {
	Grams     int64           `json:"grams"`
	Kilograms decimal.Decimal `json:"kilograms"`
	Unit      scale.Unit      `json:"unit"`
	Available bool            `json:"available"`
}

// API denotes a REST API for a scale
type API struct {
	scale  Device
	router *fiber.App
}

// New instantiates a new API
func New(s Device) *API {

	api := API{
		scale: s,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/weight", api.handleWeight())
	api.router.Post("/connect", api.handleConnect())
	api.router.Post("/disconnect", api.handleDisconnect())

	return &api
}

// Listen serves the API on the given endpoint in a goroutine
func (api *API) Listen(endpoint string, logger scale.Logger) {
	go func() {
		if err := api.router.Listen(endpoint); err != nil {
			logger.Errorf("failed to serve API on %s: %s", endpoint, err)
		}
	}()
}

// Shutdown stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

// App returns the underlying router
func (api *API) App() *fiber.App {
	return api.router
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.status())
	}
}

func (api *API) handleWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		grams, ok := api.scale.CurrentWeightGrams()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no stable weight received yet")
		}

		return c.JSON(WeightResponse{
			Grams:     grams,
			Kilograms: decimal.New(grams, -3),
			Unit:      api.scale.Unit(),
			Available: api.scale.IsAvailable(),
		})
	}
}

func (api *API) handleConnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), connectTimeout)
		defer cancel()

		if err := api.scale.EnsureConnected(ctx); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(api.status())
	}
}

func (api *API) handleDisconnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		api.scale.Disconnect()
		return c.JSON(api.status())
	}
}

func (api *API) status() StatusResponse {
	status := api.scale.ConnectionStatus()
	resp := StatusResponse{
		Name:         api.scale.Name(),
		UniqueID:     api.scale.UniqueID(),
		State:        status.State.String(),
		Available:    api.scale.IsAvailable(),
		ConnectedFor: api.scale.ConnectedFor().Seconds(),
	}
	if status.Error != nil {
		resp.Error = status.Error.Error()
	}

	return resp
}
