package http

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-fraud-guard/internal/config"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/scoring"
)

type voiceResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Start   voiceStart `xml:"Start"`
	Say     string     `xml:"Say"`
	Pause   voicePause `xml:"Pause"`
}

type voiceStart struct {
	Stream voiceStream `xml:"Stream"`
}

type voiceStream struct {
	URL string `xml:"url,attr"`
}

type voicePause struct {
	Length int `xml:"length,attr"`
}

// handleCall answers the provider's incoming-call webhook: fork the call
// audio to this host's websocket, speak the notice, then hold the line.
func handleCall(cfg config.WebhookConfig, publicHost string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := publicHost
		if host == "" {
			host = r.Host
		}

		doc, err := xml.Marshal(voiceResponse{
			Start: voiceStart{Stream: voiceStream{URL: "wss://" + host + "/"}},
			Say:   cfg.Notice,
			Pause: voicePause{Length: cfg.HoldSeconds},
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to render call response")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		log.Info().
			Str("host", host).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("Incoming call webhook, starting media stream")

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(xml.Header))
		_, _ = w.Write(doc)
	}
}

type predictRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// predictProxy scores message text on behalf of the companion app.
func predictProxy(p scoring.Predictor, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil || req.Text == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Text is required"})
			return
		}

		start := time.Now()
		pred, err := p.Predict(r.Context(), req.Text)
		m.RecordScoring(scoring.ChannelMessage, err, time.Since(start).Seconds())
		if err != nil {
			log.Error().
				Err(err).
				Str("requestId", middleware.GetReqID(r.Context())).
				Msg("Error proxying to scoring service")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to get prediction"})
			return
		}

		log.Info().Float64("score", pred.Score).Msg("Message scored")
		if len(pred.Body) > 0 {
			writeJSON(w, http.StatusOK, pred.Body)
			return
		}
		writeJSON(w, http.StatusOK, pred)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
