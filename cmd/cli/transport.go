package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	mp "mime/multipart"
	"net/http"
	"strings"

	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/handlers"
	"github.com/cardshelf/cardshelf/internal/ingest"
	"github.com/cardshelf/cardshelf/internal/multipart"
	"github.com/cardshelf/cardshelf/internal/presign"
	"github.com/cardshelf/cardshelf/internal/storage"
	"github.com/cardshelf/cardshelf/internal/uploader"
)

// apiTransport implements uploader.Transport against the platform HTTP API.
type apiTransport struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ uploader.Transport = (*apiTransport)(nil)

func newAPITransport(client *http.Client, baseURL, token string) *apiTransport {
	return &apiTransport{client: client, baseURL: baseURL, token: token}
}

func (t *apiTransport) Direct(ctx context.Context, filename, visibility string, tags []string, data []byte) (cards.Card, cards.Version, error) {
	var body bytes.Buffer
	form := mp.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	if _, err := part.Write(data); err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	_ = form.WriteField("visibility", visibility)
	_ = form.WriteField("tags", strings.Join(tags, ","))
	if err := form.Close(); err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	var resp handlers.CardResponse
	err = t.do(ctx, http.MethodPost, "/uploads/direct", &body, form.FormDataContentType(), &resp)
	return resp.Card, resp.Version, err
}

func (t *apiTransport) Presign(ctx context.Context, files []presign.FileSpec) (presign.Response, error) {
	var resp presign.Response
	err := t.doJSON(ctx, http.MethodPost, "/uploads/presign", handlers.PresignRequest{Files: files}, &resp)
	return resp, err
}

func (t *apiTransport) PutURL(ctx context.Context, url string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store rejected upload: %s", strings.TrimSpace(string(payload)))
	}
	return nil
}

func (t *apiTransport) OpenMultipart(ctx context.Context, filename, contentType string, size int64) (multipart.OpenResponse, error) {
	var resp multipart.OpenResponse
	err := t.doJSON(ctx, http.MethodPost, "/uploads/multipart", handlers.OpenMultipartRequest{
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	}, &resp)
	return resp, err
}

func (t *apiTransport) UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (storage.Part, error) {
	var part storage.Part
	path := fmt.Sprintf("/uploads/multipart/%s/parts/%d", sessionID, partNumber)
	err := t.do(ctx, http.MethodPut, path, bytes.NewReader(data), "application/octet-stream", &part)
	return part, err
}

func (t *apiTransport) CompleteMultipart(ctx context.Context, sessionID string, parts []storage.Part) error {
	path := fmt.Sprintf("/uploads/multipart/%s/complete", sessionID)
	return t.doJSON(ctx, http.MethodPost, path, handlers.CompleteMultipartRequest{Parts: parts}, nil)
}

func (t *apiTransport) Confirm(ctx context.Context, req ingest.ConfirmRequest) (cards.Card, cards.Version, error) {
	var resp handlers.CardResponse
	err := t.doJSON(ctx, http.MethodPost, "/uploads/confirm", req, &resp)
	return resp.Card, resp.Version, err
}

func (t *apiTransport) doJSON(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.do(ctx, method, path, bytes.NewReader(body), "application/json", out)
}

func (t *apiTransport) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api server error: %s", strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
