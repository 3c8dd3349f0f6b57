// Package flashserver exposes one flash chip session over HTTP.
package flashserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/retroenv/retrogolib/log"
)

const (
	ctBinary string = "application/octet-stream"
	ctJSON   string = "application/json"
)

// MaxTransfer is the largest read or write accepted in one request.
const MaxTransfer = 16 * 1024 * 1024

// HeaderReadError carries an ignorable read error. The data of such a
// response is valid except for the ranges that could not be read, which are
// 0xff.
const HeaderReadError = "X-Read-Error"

// Info describes the chip behind the server.
type Info struct {
	Vendor        string
	Name          string
	ManufactureID uint32
	ModelID       uint32
	TotalSize     uint32
	PageSize      uint32
	Features      string
	Probe         string
	Write         string
	EraseSizes    []uint32
	Status        string
}

type API struct {
	mux *http.ServeMux
	log *log.Logger

	// mu serializes all bus traffic, the chip session has a single owner.
	mu   sync.Mutex
	chip *spinor.Chip
}

func New(chip *spinor.Chip, logger *log.Logger) *API {
	mux := &http.ServeMux{}

	s := &API{
		mux:  mux,
		log:  logger,
		chip: chip,
	}

	mux.HandleFunc("/info", s.infoHandler)
	mux.HandleFunc("/read", s.readHandler)
	mux.HandleFunc("/write", s.writeHandler)
	mux.HandleFunc("/erase", s.eraseHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/unprotect", s.unprotectHandler)

	return s
}

func (s *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, spinor.ErrAddressOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, spinor.ErrProgrammer):
		return http.StatusBadRequest
	case errors.Is(err, spinor.ErrProtectionPersisted):
		return http.StatusConflict
	case errors.Is(err, spinor.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, spinor.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if s.log != nil {
		s.log.Error("Request failed", log.String("path", r.URL.Path), log.Err(err))
	}
	http.Error(w, err.Error(), errorStatus(err))
}

func checkMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func queryUint32(r *http.Request, key string) (uint32, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %q: %w", key, err)
	}
	return uint32(n), nil
}

func (s *API) infoHandler(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodGet) {
		return
	}

	s.mu.Lock()
	ci := s.chip.Info()
	sr, err := s.chip.Status()
	s.mu.Unlock()

	info := Info{
		Vendor:        ci.Vendor,
		Name:          ci.Name,
		ManufactureID: ci.ManufactureID,
		ModelID:       ci.ModelID,
		TotalSize:     ci.TotalSize,
		PageSize:      ci.PageSize,
		Features:      ci.Features.String(),
		Probe:         ci.Probe.String(),
		Write:         ci.Write.String(),
	}
	for _, b := range ci.Erase {
		info.EraseSizes = append(info.EraseSizes, b.Size)
	}
	if err == nil {
		info.Status = sr.String()
	}

	data, err := json.MarshalIndent(&info, "", "  ")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ctJSON)
	w.Write(data)
}

func (s *API) readHandler(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodGet) {
		return
	}

	addr, err := queryUint32(r, "addr")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	length, err := queryUint32(r, "len")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if length > MaxTransfer {
		http.Error(w, "Read too large", http.StatusRequestEntityTooLarge)
		return
	}

	buf := make([]byte, length)

	s.mu.Lock()
	err = s.chip.Read(buf, addr)
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, spinor.ErrIgnorable) {
			s.fail(w, r, err)
			return
		}
		w.Header().Set(HeaderReadError, err.Error())
	}

	w.Header().Set("Content-Type", ctBinary)
	w.Write(buf)
}

func (s *API) writeHandler(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodPost) {
		return
	}

	addr, err := queryUint32(r, "addr")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxTransfer+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > MaxTransfer {
		http.Error(w, "Write too large", http.StatusRequestEntityTooLarge)
		return
	}

	s.mu.Lock()
	err = s.chip.Write(data, addr)
	s.mu.Unlock()

	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *API) eraseHandler(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodPost) {
		return
	}

	addr, err := queryUint32(r, "addr")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	length, err := queryUint32(r, "len")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.chip.Erase(addr, length)
	s.mu.Unlock()

	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		sr, err := s.chip.Status()
		s.mu.Unlock()

		if err != nil {
			s.fail(w, r, err)
			return
		}

		w.Header().Set("Content-Type", ctBinary)
		w.Write([]byte{byte(sr)})

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 2))
		if err != nil || len(body) != 1 {
			http.Error(w, "Status must be a single byte", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		err = s.chip.SetStatus(spinor.StatusRegister(body[0]))
		s.mu.Unlock()

		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
	}
}

func (s *API) unprotectHandler(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodPost) {
		return
	}

	s.mu.Lock()
	err := s.chip.DisableProtection()
	s.mu.Unlock()

	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
