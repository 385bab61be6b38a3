package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"climbwall/utils"

	log "github.com/sirupsen/logrus"
)

var ErrPredictor = errors.New("segmentation predictor failed")

// PredictRequest The prompts of a single prediction
type PredictRequest struct {
	Points    []Point
	Labels    []Label
	Box       *Box
	Multimask bool
}

// Prediction Candidate masks with their predicted quality
type Prediction struct {
	Masks  []*Mask
	Scores []float64
}

// Best Return the candidate mask with the highest score
func (p Prediction) Best() (*Mask, bool) {
	if len(p.Masks) == 0 {
		return nil, false
	}
	best := 0
	for i := range p.Masks {
		if i < len(p.Scores) && p.Scores[i] > p.Scores[best] {
			best = i
		}
	}
	return p.Masks[best], true
}

// Predictor is a prompt based segmentation model. SetImage computes the image embedding,
// which is reused by every following prediction until the next SetImage.
type Predictor interface {
	SetImage(ctx context.Context, img image.Image) error
	Predict(ctx context.Context, req PredictRequest) (Prediction, error)
	PredictBatch(ctx context.Context, boxes []Box) ([]Prediction, error)
}

// PredictorConfig Where the inference service runs and which model it should load
type PredictorConfig struct {
	BaseURL    string
	ModelType  string
	Checkpoint string
	Device     string
	Timeout    time.Duration
}

// HTTPPredictor Predictor backed by an external inference service that serves the segmentation model
type HTTPPredictor struct {
	config      PredictorConfig
	client      *http.Client
	embeddingID string
}

// NewHTTPPredictor Create a predictor talking to the inference service in config
func NewHTTPPredictor(config PredictorConfig) *HTTPPredictor {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPPredictor{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

type setImageRequest struct {
	Image       string `json:"image"`
	ImageFormat string `json:"image_format"`
	ModelType   string `json:"model_type"`
	Checkpoint  string `json:"checkpoint"`
	Device      string `json:"device"`
}

type setImageResponse struct {
	EmbeddingID string `json:"embedding_id"`
}

type predictRequest struct {
	EmbeddingID     string       `json:"embedding_id"`
	PointCoords     [][2]float64 `json:"point_coords,omitempty"`
	PointLabels     []int        `json:"point_labels,omitempty"`
	Box             *[4]float64  `json:"box,omitempty"`
	Boxes           [][4]float64 `json:"boxes,omitempty"`
	MultimaskOutput bool         `json:"multimask_output"`
}

type predictionPayload struct {
	Masks  []string  `json:"masks"`
	Scores []float64 `json:"scores"`
}

type batchResponse struct {
	Predictions []predictionPayload `json:"predictions"`
}

// SetImage Upload the image so the service computes its embedding
func (p *HTTPPredictor) SetImage(ctx context.Context, img image.Image) error {
	encoded, err := utils.ImageToBase64(img, "png")
	if err != nil {
		return err
	}
	var response setImageResponse
	err = p.post(ctx, "/set_image", setImageRequest{
		Image:       encoded,
		ImageFormat: "RGB",
		ModelType:   p.config.ModelType,
		Checkpoint:  p.config.Checkpoint,
		Device:      p.config.Device,
	}, &response)
	if err != nil {
		return err
	}
	p.embeddingID = response.EmbeddingID
	log.Info(fmt.Sprintf("Image set with embedding %s", p.embeddingID))
	return nil
}

// Predict Run a single (optionally multimask) prediction
func (p *HTTPPredictor) Predict(ctx context.Context, req PredictRequest) (Prediction, error) {
	body := predictRequest{
		EmbeddingID:     p.embeddingID,
		MultimaskOutput: req.Multimask,
	}
	for i, point := range req.Points {
		body.PointCoords = append(body.PointCoords, [2]float64{point.X, point.Y})
		label := LabelPositive
		if i < len(req.Labels) {
			label = req.Labels[i]
		}
		body.PointLabels = append(body.PointLabels, int(label))
	}
	if req.Box != nil {
		b := req.Box.Array()
		body.Box = &b
	}

	var response predictionPayload
	if err := p.post(ctx, "/predict", body, &response); err != nil {
		return Prediction{}, err
	}
	return decodePrediction(response)
}

// PredictBatch Predict one mask per box
func (p *HTTPPredictor) PredictBatch(ctx context.Context, boxes []Box) ([]Prediction, error) {
	body := predictRequest{EmbeddingID: p.embeddingID}
	for _, box := range boxes {
		body.Boxes = append(body.Boxes, box.Array())
	}
	var response batchResponse
	if err := p.post(ctx, "/predict_batch", body, &response); err != nil {
		return nil, err
	}
	if len(response.Predictions) != len(boxes) {
		return nil, fmt.Errorf("%w: expected %d predictions, got %d", ErrPredictor, len(boxes), len(response.Predictions))
	}
	predictions := make([]Prediction, 0, len(response.Predictions))
	for _, payload := range response.Predictions {
		prediction, err := decodePrediction(payload)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, prediction)
	}
	return predictions, nil
}

func decodePrediction(payload predictionPayload) (Prediction, error) {
	prediction := Prediction{Scores: payload.Scores}
	for _, encoded := range payload.Masks {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Prediction{}, fmt.Errorf("%w: mask is not base64: %s", ErrPredictor, err.Error())
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Prediction{}, fmt.Errorf("%w: cannot decode mask: %s", ErrPredictor, err.Error())
		}
		prediction.Masks = append(prediction.Masks, MaskFromImage(img))
	}
	return prediction, nil
}

func (p *HTTPPredictor) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(p.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPredictor, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d: %s", ErrPredictor, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: cannot decode response of %s: %s", ErrPredictor, path, err.Error())
	}
	return nil
}
