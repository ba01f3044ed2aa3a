// Package api serves the transcription, anonymization and speech steps of
// the gossip pipeline over HTTP, plus the stored gossip audio.
package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"gossipline/gossip"
	"gossipline/pipeline"
)

// GossipStore is the part of the gossip store the API uses.
type GossipStore interface {
	All() ([]gossip.Record, error)
	Get(id int64) (*gossip.Record, error)
	Deactivate(id int64) error
}

// Handlers holds the backends. Any of them may be nil, in which case the
// matching route answers 503.
type Handlers struct {
	Transcriber pipeline.Transcriber
	Anonymizer  pipeline.Anonymizer
	Synthesizer pipeline.Synthesizer
	Gossip      GossipStore
	AudioDir    string
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/transcribe-audio", h.transcribeAudio)
	e.POST("/api/clean-text", h.cleanText)
	e.POST("/api/text-to-speech", h.textToSpeech)
	e.GET("/api/gossip", h.listGossip)
	e.DELETE("/api/gossip/:id", h.retireGossip)
	e.GET("/audio/:filename", h.serveAudio)
	e.GET("/gossip-loop", h.gossipLoop)
}

type textRequest struct {
	Text string `json:"text"`
}

// GossipItem is the public view of a record. The original transcript is
// never exposed.
type GossipItem struct {
	ID        int64     `json:"id"`
	AudioURL  string    `json:"audio_url"`
	Gossip    string    `json:"gossip_text"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"file_size_bytes"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func audioURL(path string) string {
	return "/audio/" + filepath.Base(path)
}

func (h Handlers) transcribeAudio(c echo.Context) error {
	if h.Transcriber == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "transcription is not configured")
	}
	fh, err := c.FormFile("audio_file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Missing audio_file")
	}
	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable audio_file")
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable audio_file")
	}

	text, err := h.Transcriber.Transcribe(c.Request().Context(), audio, fh.Filename)
	if errors.Is(err, pipeline.ErrUnsupportedAudio) {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		c.Logger().Errorf("transcribe %s: %v", fh.Filename, err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"transcription": strings.TrimSpace(text)})
}

// readText returns the trimmed "text" field of a JSON body.
func readText(c echo.Context) (string, bool) {
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return "", false
	}
	text := strings.TrimSpace(req.Text)
	return text, text != ""
}

func (h Handlers) cleanText(c echo.Context) error {
	if h.Anonymizer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "anonymization is not configured")
	}
	text, ok := readText(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "No text provided")
	}
	cleaned, err := h.Anonymizer.Anonymize(c.Request().Context(), text)
	if err != nil {
		c.Logger().Errorf("clean text: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"cleaned_text": strings.TrimSpace(cleaned)})
}

func (h Handlers) textToSpeech(c echo.Context) error {
	if h.Synthesizer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "speech synthesis is not configured")
	}
	text, ok := readText(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "No text provided")
	}
	path, err := h.Synthesizer.Synthesize(c.Request().Context(), text)
	if err != nil {
		c.Logger().Errorf("text to speech: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"audio_url": audioURL(path)})
}

func (h Handlers) listGossip(c echo.Context) error {
	if h.Gossip == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "gossip store is not configured")
	}
	records, err := h.Gossip.All()
	if err != nil {
		c.Logger().Errorf("list gossip: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "could not list gossip")
	}
	items := make([]GossipItem, 0, len(records))
	for _, r := range records {
		items = append(items, GossipItem{
			ID:        r.ID,
			AudioURL:  audioURL(r.AudioPath),
			Gossip:    r.AnonymizedText,
			CreatedAt: r.CreatedAt,
			SizeBytes: r.SizeBytes,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// retireGossip takes a record out of rotation and removes its audio so
// neither the phone nor the gossip loop plays it again.
func (h Handlers) retireGossip(c echo.Context) error {
	if h.Gossip == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "gossip store is not configured")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorJSON(c, http.StatusBadRequest, "invalid id")
	}
	rec, err := h.Gossip.Get(id)
	if err != nil {
		c.Logger().Errorf("get gossip %d: %v", id, err)
		return errorJSON(c, http.StatusInternalServerError, "could not load gossip")
	}
	if rec == nil {
		return errorJSON(c, http.StatusNotFound, "Gossip not found")
	}
	if err := h.Gossip.Deactivate(id); err != nil {
		c.Logger().Errorf("retire gossip %d: %v", id, err)
		return errorJSON(c, http.StatusInternalServerError, "could not retire gossip")
	}
	if err := os.Remove(rec.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.Logger().Warnf("remove %s: %v", rec.AudioPath, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h Handlers) serveAudio(c echo.Context) error {
	name := c.Param("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return errorJSON(c, http.StatusBadRequest, "invalid file name")
	}
	path := filepath.Join(h.AudioDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return errorJSON(c, http.StatusNotFound, "Audio file not found")
	}
	c.Response().Header().Set(echo.HeaderContentType, "audio/mpeg")
	return c.File(path)
}

func (h Handlers) gossipLoop(c echo.Context) error {
	entries, err := os.ReadDir(h.AudioDir)
	if err != nil && !os.IsNotExist(err) {
		c.Logger().Errorf("read audio dir: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "could not list audio")
	}
	urls := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".mp3") {
			continue
		}
		urls = append(urls, audioURL(e.Name()))
	}
	sort.Strings(urls)
	return c.JSON(http.StatusOK, map[string][]string{"audio_urls": urls})
}
