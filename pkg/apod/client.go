// Package apod talks to NASA's Astronomy Picture of the Day API and resolves
// each entry to downloadable image bytes.
package apod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/storage"
)

// DateLayout is the date format used by the APOD API.
const DateLayout = "2006-01-02"

// DefaultAPIURL is the public APOD endpoint.
const DefaultAPIURL = "https://api.nasa.gov/planetary/apod"

// Info is the APOD API response for one date.
type Info struct {
	Date         string `json:"date"`
	Title        string `json:"title"`
	Explanation  string `json:"explanation"`
	MediaType    string `json:"media_type"`
	URL          string `json:"url"`
	HDURL        string `json:"hdurl"`
	ThumbnailURL string `json:"thumbnail_url"`
	Copyright    string `json:"copyright"`
}

// Result is everything the cache needs for one date.
type Result struct {
	Date        string
	Title       string
	Explanation string
	MediaType   string
	ImageURL    string
	Data        []byte
}

// Source yields APOD metadata and image bytes for a date.
type Source interface {
	Fetch(ctx context.Context, date time.Time) (*Result, error)
}

// Downloader fetches image bytes.
type Downloader interface {
	Download(ctx context.Context, imageURL string) (*storage.DownloadResult, error)
}

// Client is the HTTP implementation of Source.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	images     Downloader
}

// NewClient creates an APOD API client.
func NewClient(apiURL, apiKey string, timeout time.Duration, images Downloader) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		images:     images,
	}
}

// Fetch implements Source. Metadata and download failures are RemoteFetch
// errors; a media type other than image or video is UnsupportedMedia.
func (c *Client) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	info, err := c.GetInfo(ctx, date)
	if err != nil {
		return nil, err
	}

	imageURL, err := ImageURL(info)
	if err != nil {
		return nil, err
	}

	dl, err := c.images.Download(ctx, imageURL)
	if err != nil {
		return nil, errors.E(errors.KindRemoteFetch, errors.StageFetch, err)
	}

	return &Result{
		Date:        date.Format(DateLayout),
		Title:       info.Title,
		Explanation: info.Explanation,
		MediaType:   info.MediaType,
		ImageURL:    imageURL,
		Data:        dl.Data,
	}, nil
}

// GetInfo requests the APOD metadata for date.
func (c *Client) GetInfo(ctx context.Context, date time.Time) (*Info, error) {
	day := date.Format(DateLayout)
	slog.Info("apod_info_request", "date", day)

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("date", day)
	params.Set("thumbs", "True")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.E(errors.KindRemoteFetch, errors.StageFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("apod_info_request_failed", "date", day, "error", err)
		return nil, errors.E(errors.KindRemoteFetch, errors.StageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Msg   string `json:"msg"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Msg
		if msg == "" {
			msg = apiErr.Error.Message
		}
		slog.Error("apod_info_bad_status", "date", day, "status", resp.StatusCode, "message", msg)
		return nil, errors.Ef(errors.KindRemoteFetch, errors.StageFetch, "APOD API returned status %d: %s", resp.StatusCode, msg)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		slog.Error("apod_info_decode_failed", "date", day, "error", err)
		return nil, errors.E(errors.KindRemoteFetch, errors.StageFetch, fmt.Errorf("decode APOD response: %w", err))
	}

	slog.Info("apod_info_received", "date", day, "title", info.Title, "media_type", info.MediaType)
	return &info, nil
}

// ImageURL picks the image to cache: the HD image for images (falling back
// to the standard one) and the thumbnail for videos.
func ImageURL(info *Info) (string, error) {
	var u string
	switch info.MediaType {
	case "image":
		u = info.HDURL
		if u == "" {
			u = info.URL
		}
	case "video":
		u = info.ThumbnailURL
	default:
		slog.Warn("apod_unsupported_media", "date", info.Date, "media_type", info.MediaType)
		return "", errors.Ef(errors.KindUnsupportedMedia, errors.StageFetch, "unsupported media type %q", info.MediaType)
	}

	if u == "" {
		return "", errors.Ef(errors.KindRemoteFetch, errors.StageFetch, "APOD %s has no %s url", info.Date, info.MediaType)
	}
	return u, nil
}
