// Package httpserve is the HTTP range server mp4vfsd exposes its
// virtual MP4 files through. It is the concrete "external HTTP server"
// collaborator the core mp4 package is indifferent to.
package httpserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/mp4vfsd/internal/mp4"
)

// FileResolver looks up (or builds) the virtual Mp4File a request's
// stream/window names, typically backed by internal/buildcache in
// front of an internal/mp4.Builder.
type FileResolver interface {
	Resolve(ctx context.Context, streamID string, start90k, end90k int64) (*mp4.File, error)
}

// Server is a fiber-based HTTP server handing out byte ranges of
// FileResolver-produced Mp4Files.
type Server struct {
	app      *fiber.App
	resolver FileResolver
	maxRange int64
}

// New builds a Server. maxRangeBytes caps how much of a single Range:
// request is honored in one response; requests asking for more get a
// clipped range rather than an error.
func New(resolver FileResolver, maxRangeBytes int64) *Server {
	s := &Server{app: fiber.New(fiber.Config{DisableStartupMessage: true}), resolver: resolver, maxRange: maxRangeBytes}
	s.app.Get("/streams/:streamID/recording.mp4", s.handleGetRecording)
	return s
}

// Listen blocks, serving on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleGetRecording(c *fiber.Ctx) error {
	streamID := c.Params("streamID")

	start90k, end90k, err := parseWindowQuery(c.Query("start_90k"), c.Query("end_90k"))
	if err != nil {
		slog.WarnContext(c.Context(), "bad recording window query", "error", err, "stream_id", streamID)
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	file, err := s.resolver.Resolve(c.Context(), streamID, start90k, end90k)
	if err != nil {
		slog.ErrorContext(c.Context(), "failed to resolve mp4 file", "error", err, "stream_id", streamID)
		if errors.Is(err, mp4.ErrNoSegments) {
			return fiber.NewError(fiber.StatusNotFound, "no recordings in requested window")
		}
		if errors.Is(err, mp4.ErrKeyFrameRequired) || errors.Is(err, mp4.ErrSampleEntryMismatch) {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "building recording")
	}

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderETag, `"`+file.ETag()+`"`)
	c.Set(fiber.HeaderLastModified, time.Unix(file.LastModified(), 0).UTC().Format(time.RFC1123))
	c.Set(fiber.HeaderContentType, file.MimeType())

	begin, end, status, err := resolveRange(c.Get(fiber.HeaderRange), file.Size(), s.maxRange)
	if err != nil {
		return fiber.NewError(fiber.StatusRequestedRangeNotSatisfiable, err.Error())
	}
	if status == fiber.StatusPartialContent {
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", begin, end-1, file.Size()))
	}
	c.Status(status)
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(end-begin, 10))

	_, err = file.AddRange(begin, end, c.Response().BodyWriter())
	if err != nil {
		var rangeErr *mp4.RangeReadError
		if errors.As(err, &rangeErr) {
			slog.ErrorContext(c.Context(), "range read failed", "error", rangeErr.Err, "stream_id", streamID, "begin", rangeErr.Begin, "end", rangeErr.End)
		} else {
			slog.ErrorContext(c.Context(), "range read failed", "error", err, "stream_id", streamID, "begin", begin, "end", end)
		}
		return fiber.NewError(fiber.StatusInternalServerError, "reading range")
	}
	return nil
}

// parseWindowQuery parses the start_90k/end_90k query parameters,
// defaulting to the full recording when both are empty.
func parseWindowQuery(startStr, endStr string) (start90k, end90k int64, err error) {
	if startStr == "" && endStr == "" {
		return 0, 1<<63 - 1, nil
	}
	start90k, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("httpserve: invalid start_90k: %w", err)
	}
	end90k, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("httpserve: invalid end_90k: %w", err)
	}
	if end90k <= start90k {
		return 0, 0, fmt.Errorf("httpserve: end_90k must be greater than start_90k")
	}
	return start90k, end90k, nil
}

// resolveRange parses a single-range "bytes=a-b" Range header (or no
// header, meaning the whole file) against size, clipping to maxRange.
func resolveRange(header string, size, maxRange int64) (begin, end int64, status int, err error) {
	if header == "" {
		end = size
		if maxRange > 0 && end > maxRange {
			end = maxRange
		}
		return 0, end, fiber.StatusOK, nil
	}
	if !strings.HasPrefix(header, "bytes=") || strings.Contains(header, ",") {
		return 0, 0, 0, fmt.Errorf("httpserve: only a single bytes= range is supported")
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("httpserve: malformed range %q", header)
	}

	switch {
	case parts[0] == "":
		// suffix range: last N bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, 0, fmt.Errorf("httpserve: malformed suffix range %q", header)
		}
		begin = size - n
		if begin < 0 {
			begin = 0
		}
		end = size
	default:
		begin, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("httpserve: malformed range start %q", header)
		}
		if parts[1] == "" {
			end = size
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("httpserve: malformed range end %q", header)
			}
			end++ // header end is inclusive
		}
	}

	if begin < 0 || begin >= size || end > size || end <= begin {
		return 0, 0, 0, fmt.Errorf("httpserve: range %q unsatisfiable for size %d", header, size)
	}
	if maxRange > 0 && end-begin > maxRange {
		end = begin + maxRange
	}
	return begin, end, fiber.StatusPartialContent, nil
}
