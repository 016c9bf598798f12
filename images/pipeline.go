// Package images routes message attachments through the out-of-band media
// pipeline: download, orient, resize, re-encode to WebP, upload to the
// object store. The pipeline is stateless; idempotence of the surrounding
// upsert is what keeps storage bounded across re-runs.
package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"forum-mirror/models"
)

var (
	ErrBadExtension = errors.New("attachment extension not allowed")
	ErrTooLarge     = errors.New("attachment exceeds size limit")
)

const webpQuality = 85

var allowedExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".svg": {},
}

// Processed describes one uploaded image.
type Processed struct {
	URL    string
	Width  int
	Height int
	Size   int64
}

// Uploader puts a processed blob into the object store and returns its
// public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, meta map[string]string) (string, error)
}

// Pipeline downloads, transforms and uploads attachments.
type Pipeline struct {
	http     *http.Client
	uploader Uploader
	maxBytes int64
	maxW     uint
	maxH     uint
	log      *zap.Logger
}

func NewPipeline(uploader Uploader, maxMB, maxW, maxH int, log *zap.Logger) *Pipeline {
	return &Pipeline{
		http:     &http.Client{Timeout: 60 * time.Second},
		uploader: uploader,
		maxBytes: int64(maxMB) << 20,
		maxW:     uint(maxW),
		maxH:     uint(maxH),
		log:      log,
	}
}

// Process runs every attachment through the pipeline. A failed attachment is
// logged and skipped; the caller persists the post without it. ts selects
// the YYYY/MM key prefix so re-processing yields the same key.
func (p *Pipeline) Process(ctx context.Context, atts []models.Attachment, ts time.Time) []Processed {
	var out []Processed
	for _, att := range atts {
		if ctx.Err() != nil {
			return out
		}
		proc, err := p.processOne(ctx, att, ts)
		if err != nil {
			p.log.Warn("skipping attachment",
				zap.String("url", att.URL),
				zap.String("filename", att.Filename),
				zap.Error(err))
			continue
		}
		out = append(out, *proc)
	}
	return out
}

func (p *Pipeline) processOne(ctx context.Context, att models.Attachment, ts time.Time) (*Processed, error) {
	if err := checkExtension(att.URL); err != nil {
		return nil, err
	}

	raw, err := p.download(ctx, att.URL)
	if err != nil {
		return nil, err
	}

	blob, w, h, err := p.transform(raw)
	if err != nil {
		return nil, fmt.Errorf("transforming %s: %w", att.Filename, err)
	}

	key := objectKey(blob, ts)
	meta := map[string]string{
		"original-filename": att.Filename,
		"processed-at":      time.Now().UTC().Format(time.RFC3339),
	}
	publicURL, err := p.uploader.Upload(ctx, key, blob, meta)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", key, err)
	}

	return &Processed{URL: publicURL, Width: w, Height: h, Size: int64(len(blob))}, nil
}

func checkExtension(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing attachment url: %w", err)
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := allowedExts[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrBadExtension, ext)
	}
	return nil
}

func (p *Pipeline) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading attachment: status %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, fmt.Errorf("%w: content-length %d", ErrTooLarge, resp.ContentLength)
	}

	// Guard the stream as well; Content-Length can lie.
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading attachment body: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: body larger than %d bytes", ErrTooLarge, p.maxBytes)
	}
	return data, nil
}

// transform decodes, auto-rotates by EXIF orientation, resizes fit-inside
// without enlargement, and re-encodes to WebP. Metadata does not survive the
// re-encode.
func (p *Pipeline) transform(raw []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding image: %w", err)
	}

	img = applyOrientation(img, readOrientation(raw))
	img = resize.Thumbnail(p.maxW, p.maxH, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding webp: %w", err)
	}

	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

// objectKey is content-addressed: the same processed bytes always map to the
// same key, so re-running a sync leaves stored URLs untouched.
func objectKey(blob []byte, ts time.Time) string {
	sum := sha256.Sum256(blob)
	return fmt.Sprintf("%04d/%02d/%s.webp", ts.Year(), int(ts.Month()), hex.EncodeToString(sum[:])[:16])
}
