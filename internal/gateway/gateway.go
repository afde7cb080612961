// Package gateway terminates browser connections and bridges them to the
// session engine.
//
// Each websocket connection gets its own controller, persona machine, and
// transcript: the browser's microphone frames feed the capture side, and
// scheduled agent speech, transcript updates, lead confirmations, and
// emergency handoffs stream back as JSON frames. A separate POST /chat
// endpoint runs the same intake tools over the text channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthline/hearthline/internal/chat"
	"github.com/hearthline/hearthline/internal/intake"
	"github.com/hearthline/hearthline/internal/lead"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/internal/session"
	"github.com/hearthline/hearthline/internal/transcript"
	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/audio/playback"
	"github.com/hearthline/hearthline/pkg/live"
)

// Config wires a [Gateway].
type Config struct {
	// Live opens voice sessions. Required.
	Live live.Provider

	// Chat answers the text channel. Optional; POST /chat returns 503
	// when absent.
	Chat *chat.Assistant

	// Sink receives captured leads. May be nil.
	Sink lead.Sink

	// Instructions is the system prompt for voice sessions.
	Instructions string

	// DefaultPersona and EmergencyPersona seed each connection's persona
	// machine.
	DefaultPersona   persona.Persona
	EmergencyPersona persona.Persona

	// Normalizer canonicalises lead fields. Defaults to the built-in
	// vocabulary.
	Normalizer *intake.Normalizer

	// CaptureRate is the browser microphone sample rate. Defaults to
	// [audio.CaptureRate].
	CaptureRate int

	// FrameSamples is the capture frame size handed to the provider.
	FrameSamples int

	// AllowedOrigins restricts websocket upgrades by Origin header.
	// Empty means same-host only.
	AllowedOrigins []string

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Gateway serves the browser-facing endpoints.
type Gateway struct {
	cfg  Config
	log  *slog.Logger
	m    *observe.Metrics
	norm *intake.Normalizer
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = intake.NewNormalizer()
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = audio.CaptureRate
	}
	return &Gateway{cfg: cfg, log: cfg.Logger, m: cfg.Metrics, norm: cfg.Normalizer}
}

// Routes registers the gateway's endpoints on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.handleSession)
	mux.HandleFunc("POST /chat", g.handleChat)
}

// handleSession upgrades the connection and runs the per-connection read
// loop until the browser goes away.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.AllowedOrigins,
	})
	if err != nil {
		g.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	log := observe.Logger(r.Context()).With("remote", r.RemoteAddr)
	log.Info("browser connected")

	clock := playback.NewWallClock()
	cl := newClient(conn, clock, log, g.m)
	ctrl := g.buildSession(cl, clock, log)
	defer ctrl.Stop()

	g.readLoop(r.Context(), conn, ctrl, cl, log)

	log.Info("browser disconnected")
	conn.Close(websocket.StatusNormalClosure, "")
}

// buildSession assembles the per-connection collaborators: persona machine,
// transcript assembler, tool dispatcher, and the controller tying them and
// the client's audio legs to the live provider.
func (g *Gateway) buildSession(cl *client, clock playback.Clock, log *slog.Logger) *session.Controller {
	machine := persona.NewMachine(g.cfg.DefaultPersona, g.cfg.EmergencyPersona)

	assembler := transcript.NewAssembler(func(entries []transcript.Entry) {
		wire := make([]transcriptEntry, len(entries))
		for i, e := range entries {
			wire[i] = transcriptEntry{Role: string(e.Role), Text: e.Text, Final: e.Final}
		}
		cl.send(serverMessage{Type: msgTranscript, Entries: wire})
	})

	dispatcher := intake.NewDispatcher(machine, g.cfg.Sink,
		intake.WithLogger(log),
		intake.WithNormalizer(g.norm),
		intake.WithMetrics(g.m),
		intake.WithOnLead(func(rec lead.Record) {
			cl.send(serverMessage{Type: msgLead, Lead: &rec})
		}),
		intake.WithOnEmergency(func(st persona.State) {
			cl.send(serverMessage{Type: msgEmergency, Active: st.EmergencyActive, Agent: st.Active.Label})
		}),
	)

	var activeSince time.Time
	ctrl := session.NewController(session.Config{
		Provider:     g.cfg.Live,
		Device:       cl,
		Output:       cl,
		Clock:        clock,
		Dispatcher:   dispatcher,
		Assembler:    assembler,
		Personas:     machine,
		Instructions: g.cfg.Instructions,
		CaptureRate:  g.cfg.CaptureRate,
		FrameSamples: g.cfg.FrameSamples,
		Logger:       log,
		Metrics:      g.m,
		OnState: func(st session.State) {
			cl.send(serverMessage{Type: msgState, State: st.String()})
			switch st {
			case session.StateActive:
				activeSince = time.Now()
				g.m.ActiveSessions.Add(context.Background(), 1)
			case session.StateClosing:
				g.m.ActiveSessions.Add(context.Background(), -1)
				g.m.SessionDuration.Record(context.Background(),
					time.Since(activeSince).Seconds())
			}
		},
	})
	return ctrl
}

// readLoop consumes browser frames until the connection drops.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, ctrl *session.Controller, cl *client, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cl.send(serverMessage{Type: msgError, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case msgStart:
			// Connecting can take a while; keep reading so a stop (or
			// the browser hanging up) is seen promptly.
			go func() {
				err := ctrl.Start(ctx)
				switch {
				case err == nil, errors.Is(err, session.ErrStopped):
				case errors.Is(err, session.ErrAlreadyStarted):
					cl.send(serverMessage{Type: msgError, Error: "session already running"})
				default:
					log.Error("session start failed", "error", err)
					cl.send(serverMessage{Type: msgError, Error: "could not reach the voice service"})
				}
			}()

		case msgStop:
			ctrl.Stop()

		case msgAudio:
			pkt := audio.Packet{Data: msg.Data, MIMEType: audio.MIMEForRate(g.cfg.CaptureRate)}
			frame, err := audio.Decode(pkt, 1)
			if err != nil {
				g.m.DecodeFailures.Add(ctx, 1)
				log.Debug("dropping malformed caller audio", "error", err)
				continue
			}
			g.m.FramesReceived.Add(ctx, 1)
			cl.push(frame.Samples)

		default:
			cl.send(serverMessage{Type: msgError, Error: "unknown message type: " + msg.Type})
		}
	}
}

// chatRequest and chatResponse are the POST /chat wire forms.
type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// handleChat runs one text-channel turn.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Chat == nil {
		http.Error(w, "chat is not configured", http.StatusServiceUnavailable)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "expected JSON body with a non-empty \"text\" field", http.StatusBadRequest)
		return
	}

	start := time.Now()
	reply, err := g.cfg.Chat.Send(r.Context(), req.Text)
	g.m.ChatTurnDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		observe.Logger(r.Context()).Error("chat turn failed", "error", err)
		http.Error(w, "chat backend unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{Reply: reply}); err != nil {
		observe.Logger(r.Context()).Debug("write chat response", "error", err)
	}
}
