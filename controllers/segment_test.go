package controllers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"climbwall/models"
	"climbwall/segment"
	"climbwall/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// boxPredictor segments exactly the prompted box
type boxPredictor struct {
	width, height int
}

func (p *boxPredictor) SetImage(_ context.Context, img image.Image) error {
	p.width, p.height = img.Bounds().Dx(), img.Bounds().Dy()
	return nil
}

func (p *boxPredictor) mask(box segment.Box) *segment.Mask {
	mask := segment.NewMask(p.width, p.height)
	for y := int(box.Y1); y < int(box.Y2); y++ {
		for x := int(box.X1); x < int(box.X2); x++ {
			mask.Set(x, y, true)
		}
	}
	return mask
}

func (p *boxPredictor) Predict(_ context.Context, req segment.PredictRequest) (segment.Prediction, error) {
	box := segment.Box{X1: 0, Y1: 0, X2: 1, Y2: 1}
	if req.Box != nil {
		box = *req.Box
	}
	return segment.Prediction{Masks: []*segment.Mask{p.mask(box)}, Scores: []float64{1}}, nil
}

func (p *boxPredictor) PredictBatch(_ context.Context, boxes []segment.Box) ([]segment.Prediction, error) {
	var out []segment.Prediction
	for _, box := range boxes {
		out = append(out, segment.Prediction{Masks: []*segment.Mask{p.mask(box)}, Scores: []float64{1}})
	}
	return out, nil
}

type segmentClient struct {
	t      *testing.T
	router   *gin.Engine
	cookie   *http.Cookie
	savePath string
}

func newSegmentClient(t *testing.T) *segmentClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := models.Open("sqlite", filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	models.DB = db

	config := utils.DefaultConfig()
	config.Server.SavePath = t.TempDir()
	cache := segment.NewSessionCache(time.Hour, time.Hour, func(id string) *segment.Session {
		return segment.NewSession(id, &boxPredictor{}, segment.SessionConfig{})
	})
	t.Cleanup(cache.Stop)
	return &segmentClient{t: t, router: NewSegmentRouter(cache, config), savePath: config.Server.SavePath}
}

func (sc *segmentClient) do(req *http.Request) *httptest.ResponseRecorder {
	if sc.cookie != nil {
		req.AddCookie(sc.cookie)
	}
	w := httptest.NewRecorder()
	sc.router.ServeHTTP(w, req)
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == sessionCookie {
			sc.cookie = cookie
		}
	}
	return w
}

func (sc *segmentClient) postJSON(path string, body any) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(sc.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return sc.do(req)
}

func (sc *segmentClient) upload(field string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "wall.png")
	require.NoError(sc.t, err)
	_, err = part.Write(data)
	require.NoError(sc.t, err)
	require.NoError(sc.t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_image", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return sc.do(req)
}

func wallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadWithoutImage(t *testing.T) {
	sc := newSegmentClient(t)
	w := sc.upload("file", wallPNG(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No image in the request")
}

func TestUploadMalformedImage(t *testing.T) {
	sc := newSegmentClient(t)
	w := sc.upload("image", []byte("definitely not a png"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestButtonClickBeforeUpload(t *testing.T) {
	sc := newSegmentClient(t)
	w := sc.postJSON("/button_click", gin.H{"button_id": "inference", "image_type": "png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No image available for processing")

	w = sc.postJSON("/box_receive", gin.H{"x1": 1, "y1": 1, "x2": 4, "y2": 4})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func decodeButtonImage(t *testing.T, w *httptest.ResponseRecorder) image.Image {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var response struct {
		Image     string `json:"image"`
		ImageType string `json:"image_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, err := base64.StdEncoding.DecodeString(response.Image)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func sessionMasks(t *testing.T, sc *segmentClient) int {
	t.Helper()
	w := sc.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data segment.State `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response.Data.Masks
}

func TestAnnotationFlow(t *testing.T) {
	sc := newSegmentClient(t)

	w := sc.upload("image", wallPNG(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Uploaded image, successfully initialized", w.Body.String())
	require.NotNil(t, sc.cookie)

	// zero prompts, zero masks
	img := decodeButtonImage(t, sc.postJSON("/button_click", gin.H{"button_id": "inference", "image_type": "png"}))
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 0, sessionMasks(t, sc))

	w = sc.postJSON("/box_receive", gin.H{"x1": 1, "y1": 1, "x2": 6, "y2": 6})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "server received boxes", w.Body.String())
	w = sc.postJSON("/box_receive", gin.H{"x1": 8, "y1": 2, "x2": 14, "y2": 10})
	require.Equal(t, http.StatusOK, w.Code)

	decodeButtonImage(t, sc.postJSON("/button_click", gin.H{"button_id": "inference", "image_type": "png"}))
	assert.Equal(t, 2, sessionMasks(t, sc))

	w = sc.postJSON("/point_receive", gin.H{"x": 3, "y": 3, "label": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "server received points", w.Body.String())

	// legacy numeric id of undo, drops the point then the inference
	decodeButtonImage(t, sc.postJSON("/button_click", gin.H{"button_id": 8, "image_type": "png"}))
	decodeButtonImage(t, sc.postJSON("/button_click", gin.H{"button_id": 8, "image_type": "jpeg"}))
	assert.Equal(t, 0, sessionMasks(t, sc))

	w = sc.postJSON("/button_click", gin.H{"button_id": "brush", "image_type": "png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveMasksPersistsRecord(t *testing.T) {
	sc := newSegmentClient(t)
	require.Equal(t, http.StatusOK, sc.upload("image", wallPNG(t)).Code)
	require.Equal(t, http.StatusOK, sc.postJSON("/box_receive", gin.H{"x1": 1, "y1": 1, "x2": 6, "y2": 6}).Code)
	decodeButtonImage(t, sc.postJSON("/button_click", gin.H{"button_id": "inference", "image_type": "png"}))

	w := sc.postJSON("/save_masks", gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = sc.do(httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data []models.Image `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Data, 1)
	assert.Equal(t, 1, response.Data[0].Masks)
	assert.Len(t, response.Data[0].MaskAnnotations, 3)
	assert.True(t, strings.HasSuffix(response.Data[0].MaskAnnotations[0].Path, "_overlay.png"))
}

func TestResolveSavePath(t *testing.T) {
	root := filepath.Join(t.TempDir(), "saved")
	for _, tc := range []struct {
		requested string
		want      string
		err       bool
	}{
		{requested: "", want: root},
		{requested: "wall-1", want: filepath.Join(root, "wall-1")},
		{requested: "a/b/../c", want: filepath.Join(root, "a", "c")},
		{requested: root, want: root},
		{requested: filepath.Join(root, "wall-2"), want: filepath.Join(root, "wall-2")},
		{requested: "../outside", err: true},
		{requested: "a/../../outside", err: true},
		{requested: filepath.Dir(root), err: true},
		{requested: "/etc", err: true},
	} {
		got, err := resolveSavePath(root, tc.requested)
		if tc.err {
			assert.ErrorIs(t, err, ErrSavePath, tc.requested)
			continue
		}
		require.NoError(t, err, tc.requested)
		assert.Equal(t, tc.want, got, tc.requested)
	}
}

func TestSaveMasksStaysInsideSavePath(t *testing.T) {
	sc := newSegmentClient(t)
	require.Equal(t, http.StatusOK, sc.upload("image", wallPNG(t)).Code)

	for _, path := range []string{"../escape", "/tmp"} {
		w := sc.postJSON("/save_masks", gin.H{"path": path})
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := sc.postJSON("/save_masks", gin.H{"path": "route-7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entries, err := os.ReadDir(filepath.Join(sc.savePath, "route-7"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestImageRecordsNotFound(t *testing.T) {
	sc := newSegmentClient(t)
	w := sc.do(httptest.NewRequest(http.MethodGet, "/api/v1/images/42", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = sc.postJSON("/api/v1/images", gin.H{"identifier": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = sc.postJSON("/api/v1/images", gin.H{"identifier": "abc", "path": "/tmp/abc"})
	require.Equal(t, http.StatusOK, w.Code)
	w = sc.do(httptest.NewRequest(http.MethodDelete, "/api/v1/images/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHomeAndVersion(t *testing.T) {
	sc := newSegmentClient(t)
	w := sc.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "upload_image")

	w = sc.do(httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
