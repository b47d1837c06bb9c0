package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anonid/internal/identity"
	"anonid/internal/intake"
	platformredis "anonid/internal/platform/redis"
)

type anonymizeRequest struct {
	Signals struct {
		UserAgent           string `json:"userAgent"`
		Language            string `json:"language"`
		Platform            string `json:"platform"`
		Timezone            string `json:"timezone"`
		ScreenWidth         int    `json:"screenWidth"`
		ScreenHeight        int    `json:"screenHeight"`
		HardwareConcurrency int    `json:"hardwareConcurrency"`
	} `json:"signals"`
	Tokens struct {
		Current  string `json:"current"`
		Previous string `json:"previous,omitempty"`
	} `json:"tokens"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
	Note string   `json:"note,omitempty"`
}

type anonymizeResponse struct {
	DeviceID    string `json:"deviceId"`
	PreviousID  string `json:"previousId,omitempty"`
	IsNew       bool   `json:"isNew"`
	IsRotated   bool   `json:"isRotated"`
	IsEphemeral bool   `json:"isEphemeral"`
	RegionHash  string `json:"regionHash,omitempty"`
	Note        string `json:"note,omitempty"`
	NoteHadPII  bool   `json:"noteHadPii"`
}

func newRouter(processor *intake.Processor, devices *identity.Manager, rdb *platformredis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if rdb != nil {
			if err := rdb.Health(req.Context()); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/anonymize", func(w http.ResponseWriter, req *http.Request) {
		var body anonymizeRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		in := intake.Request{
			Signals: identity.ClientSignals{
				UserAgent:           body.Signals.UserAgent,
				Language:            body.Signals.Language,
				Platform:            body.Signals.Platform,
				Timezone:            body.Signals.Timezone,
				ScreenWidth:         body.Signals.ScreenWidth,
				ScreenHeight:        body.Signals.ScreenHeight,
				HardwareConcurrency: body.Signals.HardwareConcurrency,
			},
			Tokens: identity.TokenPair{
				Current:  body.Tokens.Current,
				Previous: body.Tokens.Previous,
			},
			Note: body.Note,
		}
		if body.Lat != nil && body.Lng != nil {
			in.HasLocation = true
			in.Lat = *body.Lat
			in.Lng = *body.Lng
		}

		res := processor.Process(req.Context(), in)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anonymizeResponse{
			DeviceID:    res.Device.DeviceID,
			PreviousID:  res.Device.PreviousID,
			IsNew:       res.Device.IsNew,
			IsRotated:   res.Device.IsRotated,
			IsEphemeral: res.Device.IsEphemeral,
			RegionHash:  res.RegionHash,
			Note:        res.Note,
			NoteHadPII:  res.NoteHadPII,
		})
	})

	r.Delete("/v1/devices/{deviceID}", func(w http.ResponseWriter, req *http.Request) {
		if err := devices.AnonymizeDevice(req.Context(), chi.URLParam(req, "deviceID")); err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
