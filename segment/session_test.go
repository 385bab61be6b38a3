package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePredictor returns a mask covering the box, or a small square around the first point
type fakePredictor struct {
	width, height int
	setImageCalls int
	predictCalls  int
	batchCalls    int
	failPredict   bool
}

func (f *fakePredictor) SetImage(_ context.Context, img image.Image) error {
	f.setImageCalls++
	f.width, f.height = img.Bounds().Dx(), img.Bounds().Dy()
	return nil
}

func (f *fakePredictor) boxMask(box Box) *Mask {
	mask := NewMask(f.width, f.height)
	for y := int(box.Y1); y < int(box.Y2); y++ {
		for x := int(box.X1); x < int(box.X2); x++ {
			mask.Set(x, y, true)
		}
	}
	return mask
}

func (f *fakePredictor) Predict(_ context.Context, req PredictRequest) (Prediction, error) {
	f.predictCalls++
	if f.failPredict {
		return Prediction{}, ErrPredictor
	}
	var best *Mask
	if req.Box != nil {
		best = f.boxMask(*req.Box)
	} else {
		p := req.Points[0]
		best = f.boxMask(Box{X1: p.X - 1, Y1: p.Y - 1, X2: p.X + 1, Y2: p.Y + 1})
	}
	return Prediction{
		Masks:  []*Mask{NewMask(f.width, f.height), best, NewMask(f.width, f.height)},
		Scores: []float64{0.1, 0.9, 0.5},
	}, nil
}

func (f *fakePredictor) PredictBatch(_ context.Context, boxes []Box) ([]Prediction, error) {
	f.batchCalls++
	var out []Prediction
	for _, box := range boxes {
		out = append(out, Prediction{Masks: []*Mask{f.boxMask(box)}, Scores: []float64{1}})
	}
	return out, nil
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 80, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadedSession(t *testing.T) (*Session, *fakePredictor) {
	t.Helper()
	predictor := &fakePredictor{}
	session := NewSession("test", predictor, SessionConfig{})
	require.NoError(t, session.Upload(context.Background(), testPNG(t, 20, 20)))
	return session, predictor
}

func TestUploadMalformedImage(t *testing.T) {
	session := NewSession("test", &fakePredictor{}, SessionConfig{})
	err := session.Upload(context.Background(), []byte("not an image"))
	require.Error(t, err)
	assert.False(t, session.HasImage())
}

func TestOperationsRequireImage(t *testing.T) {
	session := NewSession("test", &fakePredictor{}, SessionConfig{})
	assert.ErrorIs(t, session.AddBox(Box{X1: 1, Y1: 1, X2: 2, Y2: 2}), ErrNoImage)
	assert.ErrorIs(t, session.AddPoint(Point{X: 1, Y: 1}, LabelPositive), ErrNoImage)
	_, err := session.Click(context.Background(), ButtonInference)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestUploadSetsImageOnce(t *testing.T) {
	session, predictor := uploadedSession(t)
	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)
	assert.Equal(t, 1, predictor.setImageCalls)

	state := session.State()
	assert.Equal(t, 20, state.Width)
	assert.Equal(t, 20, state.Height)
	assert.Len(t, state.Identifier, 16)
}

func TestInferenceWithoutPromptsGivesNoMasks(t *testing.T) {
	session, predictor := uploadedSession(t)

	img, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)
	require.NotNil(t, img)

	state := session.State()
	assert.Equal(t, 0, state.Masks)
	assert.Equal(t, []string{"inference-0"}, state.Undo)
	assert.Equal(t, 0, predictor.predictCalls)
	assert.Equal(t, 0, predictor.batchCalls)
}

func TestInferenceSingleBoxKeepsBestMask(t *testing.T) {
	session, predictor := uploadedSession(t)
	require.NoError(t, session.AddBox(Box{X1: 10, Y1: 10, X2: 2, Y2: 2}))

	img, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)

	state := session.State()
	assert.Equal(t, 1, state.Masks)
	assert.Equal(t, 1, predictor.predictCalls)
	assert.True(t, state.Prompts.Empty())
	assert.Equal(t, []string{"box", "inference-1"}, state.Undo)

	overlay := img.(*image.NRGBA)
	inside := overlay.NRGBAAt(5, 5)
	outside := overlay.NRGBAAt(15, 15)
	assert.Equal(t, uint8(255), inside.A)
	assert.Equal(t, uint8(127), outside.A)
	assert.Equal(t, color.NRGBA{R: 100, G: 80, B: 60, A: 127}, outside)
	// saturation and brightness are increased within the mask
	assert.Greater(t, inside.R, uint8(100))
	// the contour is magenta
	assert.Equal(t, boundaryColor, overlay.NRGBAAt(2, 2))
}

func TestInferencePointsUseSinglePrediction(t *testing.T) {
	session, predictor := uploadedSession(t)
	require.NoError(t, session.AddPoint(Point{X: 5, Y: 5}, LabelPositive))
	require.NoError(t, session.AddPoint(Point{X: 8, Y: 8}, Label(7)))

	state := session.State()
	assert.Equal(t, []Label{LabelPositive, LabelNegative}, state.Prompts.Labels)

	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)
	assert.Equal(t, 1, predictor.predictCalls)
	assert.Equal(t, 1, session.State().Masks)
}

func TestInferenceSeveralBoxesGivesMaskPerBox(t *testing.T) {
	session, predictor := uploadedSession(t)
	require.NoError(t, session.AddBox(Box{X1: 0, Y1: 0, X2: 4, Y2: 4}))
	require.NoError(t, session.AddBox(Box{X1: 6, Y1: 6, X2: 9, Y2: 9}))
	require.NoError(t, session.AddBox(Box{X1: 12, Y1: 12, X2: 18, Y2: 18}))

	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)
	assert.Equal(t, 1, predictor.batchCalls)
	assert.Equal(t, 0, predictor.predictCalls)
	assert.Equal(t, 3, session.State().Masks)

	cutout, err := session.Click(context.Background(), ButtonMasks)
	require.NoError(t, err)
	nrgba := cutout.(*image.NRGBA)
	assert.Equal(t, uint8(255), nrgba.NRGBAAt(1, 1).A)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(5, 5).A)
	assert.Equal(t, ViewMasks, session.State().View)
}

func TestInvalidBoxIsRejected(t *testing.T) {
	session, _ := uploadedSession(t)
	assert.ErrorIs(t, session.AddBox(Box{X1: 3, Y1: 3, X2: 3, Y2: 9}), ErrInvalidBox)
	assert.Empty(t, session.State().Undo)
}

func TestUndoInferenceRestoresPrompts(t *testing.T) {
	session, _ := uploadedSession(t)
	box := Box{X1: 1, Y1: 1, X2: 5, Y2: 5}
	require.NoError(t, session.AddBox(box))
	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)

	_, err = session.Click(context.Background(), ButtonUndo)
	require.NoError(t, err)
	state := session.State()
	assert.Equal(t, 0, state.Masks)
	assert.Equal(t, []Box{box}, state.Prompts.Boxes)
	assert.Equal(t, []string{"box"}, state.Undo)

	_, err = session.Click(context.Background(), ButtonUndo)
	require.NoError(t, err)
	state = session.State()
	assert.Empty(t, state.Prompts.Boxes)
	assert.Empty(t, state.Undo)

	// undo on an empty history is a no-op
	_, err = session.Click(context.Background(), ButtonUndo)
	require.NoError(t, err)
}

func TestUndoPoint(t *testing.T) {
	session, _ := uploadedSession(t)
	require.NoError(t, session.AddPoint(Point{X: 1, Y: 1}, LabelPositive))
	require.NoError(t, session.AddBox(Box{X1: 1, Y1: 1, X2: 5, Y2: 5}))
	require.NoError(t, session.AddPoint(Point{X: 2, Y: 2}, LabelNegative))

	_, err := session.Click(context.Background(), ButtonUndo)
	require.NoError(t, err)
	state := session.State()
	assert.Equal(t, []Point{{X: 1, Y: 1}}, state.Prompts.Points)
	assert.Len(t, state.Prompts.Boxes, 1)
}

func TestUndoHistoryIsBounded(t *testing.T) {
	session := NewSession("test", &fakePredictor{}, SessionConfig{UndoCapacity: 3})
	require.NoError(t, session.Upload(context.Background(), testPNG(t, 10, 10)))
	for i := 0; i < 5; i++ {
		require.NoError(t, session.AddPoint(Point{X: float64(i), Y: 1}, LabelPositive))
	}
	assert.Len(t, session.State().Undo, 3)
}

func TestClearAndModes(t *testing.T) {
	session, _ := uploadedSession(t)
	require.NoError(t, session.AddBox(Box{X1: 1, Y1: 1, X2: 5, Y2: 5}))
	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)

	_, err = session.Click(context.Background(), ButtonPPoint)
	require.NoError(t, err)
	assert.Equal(t, ModePositivePoint, session.State().Mode)

	_, err = session.Click(context.Background(), ButtonClear)
	require.NoError(t, err)
	state := session.State()
	assert.Equal(t, 0, state.Masks)
	assert.Empty(t, state.Undo)

	_, err = session.Click(context.Background(), Button("brush"))
	assert.ErrorIs(t, err, ErrUnknownButton)
}

func TestPredictorFailureKeepsPrompts(t *testing.T) {
	session, predictor := uploadedSession(t)
	predictor.failPredict = true
	require.NoError(t, session.AddBox(Box{X1: 1, Y1: 1, X2: 5, Y2: 5}))

	_, err := session.Click(context.Background(), ButtonInference)
	assert.True(t, errors.Is(err, ErrPredictor))
	assert.Len(t, session.State().Prompts.Boxes, 1)
}

func TestButtonUnmarshal(t *testing.T) {
	var payload struct {
		ButtonID Button `json:"button_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"button_id": "inference"}`), &payload))
	assert.Equal(t, ButtonInference, payload.ButtonID)

	require.NoError(t, json.Unmarshal([]byte(`{"button_id": 9}`), &payload))
	assert.Equal(t, ButtonColorMasks, payload.ButtonID)

	require.NoError(t, json.Unmarshal([]byte(`{"button_id": "3"}`), &payload))
	assert.Equal(t, ButtonClear, payload.ButtonID)

	assert.Error(t, json.Unmarshal([]byte(`{"button_id": 42}`), &payload))
}

func TestSave(t *testing.T) {
	session, _ := uploadedSession(t)
	require.NoError(t, session.AddBox(Box{X1: 1, Y1: 1, X2: 5, Y2: 5}))
	_, err := session.Click(context.Background(), ButtonInference)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	files, err := session.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, files.Masks)
	for _, path := range []string{files.Overlay, files.Cutout, files.ColorMasks} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}
