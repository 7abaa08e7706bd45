package session

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler exposes the session over HTTP: a load endpoint returning the
// reconciled snapshot and a command endpoint applying one transition.
type Handler struct {
	sync         *Synchronizer
	userResolver func(*http.Request) (string, bool)
}

func NewHandler(sync *Synchronizer) *Handler {
	return &Handler{sync: sync}
}

func (h *Handler) SetUserResolver(fn func(*http.Request) (string, bool)) {
	h.userResolver = fn
}

func (h *Handler) userFromRequest(r *http.Request) (string, bool) {
	if h.userResolver == nil {
		return "", false
	}
	return h.userResolver(r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// GET /api/session
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.userFromRequest(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snap, err := h.sync.Load(r.Context(), userID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "could not load session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CommandRequest is the request body for POST /api/session/cmd.
type CommandRequest struct {
	Cmd  string         `json:"cmd"`
	Args map[string]any `json:"args"`
}

// CommandResponse is the response for POST /api/session/cmd.
type CommandResponse struct {
	OK      bool      `json:"ok"`
	Session *Snapshot `json:"session,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// POST /api/session/cmd
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.userFromRequest(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	cmd, err := parseCommand(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{OK: false, Error: err.Error()})
		return
	}

	snap, err := h.sync.Apply(r.Context(), userID, cmd)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			writeJSON(w, http.StatusBadRequest, CommandResponse{OK: false, Error: err.Error()})
			return
		}
		writeErr(w, http.StatusInternalServerError, "could not apply command")
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Session: &snap})
}

func parseCommand(req CommandRequest) (Command, error) {
	cmd := Command{}
	switch req.Cmd {
	case "session.reveal_next":
		cmd.Op = OpRevealNext
	case "session.edit_text":
		cmd.Op = OpEditText
		idx, err := getInt(req.Args, "index")
		if err != nil {
			return Command{}, err
		}
		text, err := getString(req.Args, "text")
		if err != nil {
			return Command{}, err
		}
		cmd.Index = idx
		cmd.Text = text
	case "session.toggle_done":
		cmd.Op = OpToggleDone
		idx, err := getInt(req.Args, "index")
		if err != nil {
			return Command{}, err
		}
		cmd.Index = idx
	case "session.set_price":
		cmd.Op = OpSetPrice
		price, err := getNumber(req.Args, "price")
		if err != nil {
			return Command{}, err
		}
		cmd.Price = price
	case "session.lock":
		cmd.Op = OpLock
	case "session.tick":
		cmd.Op = OpTick
	default:
		return Command{}, errors.New("unknown cmd: " + req.Cmd)
	}
	return cmd, nil
}

func getString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", errors.New("missing arg: " + key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New("arg is not a string: " + key)
	}
	return s, nil
}

func getNumber(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, errors.New("missing arg: " + key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.New("arg is not a number: " + key)
	}
	return f, nil
}

func getInt(args map[string]any, key string) (int, error) {
	f, err := getNumber(args, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
