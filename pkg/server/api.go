// Copyright 2025 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/spindles"
)

// StateRequest is the body of a spindle state change.
type StateRequest struct {
	State model.SpindleState `json:"state"`
	Speed uint32             `json:"speed"`
}

// PowerRequest is the body of a fast path duty change.
type PowerRequest struct {
	Duty uint32 `json:"duty"`
}

// AbortResponse reports the abort state.
type AbortResponse struct {
	Active bool `json:"active"`
	// True if the request changed the abort state
	Changed bool `json:"changed"`
}

// OverrideRequest sets or reports the speed override.
type OverrideRequest struct {
	Percent uint32 `json:"percent"`
}

// DevicesResponse lists the device IDs by state.
type DevicesResponse struct {
	Configured   []string `json:"configured"`
	Unconfigured []string `json:"unconfigured"`
	// Addresses found on the I2C bus, only filled when ?scan=1 is given.
	I2CAddresses []string `json:"i2c_addresses,omitempty"`
}

// spindles returns the spindle service or a 503 error.
func (s *Server) spindles() (spindles.Service, error) {
	if svc := s.service.GetSpindleService(); svc != nil {
		return svc, nil
	}
	return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "spindles not available")
}

// toHTTPError converts a spindle service error.
func toHTTPError(err error) error {
	if spindles.IsUnknownSpindle(err) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (s *Server) handleListSpindles(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc.Statuses())
}

func (s *Server) handleGetSpindle(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	status, err := svc.Status(c.Param("name"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleSetState(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	var req StateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	name := c.Param("name")
	if err := svc.SetState(c.Request().Context(), name, req.State, req.Speed); err != nil {
		return toHTTPError(err)
	}
	status, err := svc.Status(name)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleSetPower(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	var req PowerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := svc.SetSpeedFromISR(c.Param("name"), req.Duty); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetAbort(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AbortResponse{Active: svc.AbortActive()})
}

func (s *Server) handleAbort(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	changed := svc.Abort()
	return c.JSON(http.StatusOK, AbortResponse{Active: svc.AbortActive(), Changed: changed})
}

func (s *Server) handleResetAbort(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	changed := svc.ResetAbort(c.Request().Context())
	return c.JSON(http.StatusOK, AbortResponse{Active: svc.AbortActive(), Changed: changed})
}

func (s *Server) handleGetOverride(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OverrideRequest{Percent: svc.SpeedOverride()})
}

func (s *Server) handleSetOverride(c echo.Context) error {
	svc, err := s.spindles()
	if err != nil {
		return err
	}
	var req OverrideRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OverrideRequest{Percent: svc.SetSpeedOverride(req.Percent)})
}

func (s *Server) handleListDevices(c echo.Context) error {
	devService := s.service.GetDeviceService()
	if devService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "devices not available")
	}
	resp := DevicesResponse{
		Configured:   devService.GetConfiguredDeviceIDs(),
		Unconfigured: devService.GetUnconfiguredDeviceIDs(),
	}
	if c.QueryParam("scan") == "1" {
		resp.I2CAddresses = devService.DiscoverI2CAddresses()
	}
	return c.JSON(http.StatusOK, resp)
}
