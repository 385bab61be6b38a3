package segment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"climbwall/metrics"
	"climbwall/utils"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrNoImage       = errors.New("no image available for processing")
	ErrUnknownButton = errors.New("unknown button")
	ErrInvalidBox    = errors.New("invalid box")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Label of a point prompt
type Label int

const (
	LabelNegative Label = 0
	LabelPositive Label = 1
)

type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize Return the box with (X1, Y1) the top left and (X2, Y2) the bottom right corner
func (b Box) Normalize() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

func (b Box) Array() [4]float64 { return [4]float64{b.X1, b.Y1, b.X2, b.Y2} }

// Prompts The inputs collected since the last inference
type Prompts struct {
	Points []Point `json:"points"`
	Labels []Label `json:"labels"`
	Boxes  []Box   `json:"boxes"`
}

func (p Prompts) clone() Prompts {
	return Prompts{
		Points: append([]Point(nil), p.Points...),
		Labels: append([]Label(nil), p.Labels...),
		Boxes:  append([]Box(nil), p.Boxes...),
	}
}

func (p Prompts) Empty() bool { return len(p.Points) == 0 && len(p.Boxes) == 0 }

const OptPositive = "positive"

// MaskEntry A mask together with how it should be combined
type MaskEntry struct {
	Mask *Mask
	Opt  string
}

// Mode How clicks on the image are interpreted
type Mode string

const (
	ModeBox           Mode = "box"
	ModePositivePoint Mode = "p_point"
	ModeNegativePoint Mode = "n_point"
)

// View Which rendering is returned to the client
type View string

const (
	ViewImage      View = "image"
	ViewMasks      View = "masks"
	ViewColorMasks View = "color_masks"
)

// Button Identifier of a button in the tool bar. Both names and the legacy numeric ids are accepted.
type Button string

const (
	ButtonImage      Button = "image"
	ButtonMasks      Button = "masks"
	ButtonClear      Button = "clear"
	ButtonPPoint     Button = "p_point"
	ButtonNPoint     Button = "n_point"
	ButtonBox        Button = "box"
	ButtonInference  Button = "inference"
	ButtonUndo       Button = "undo"
	ButtonColorMasks Button = "color_masks"
)

var numericButtons = map[int]Button{
	1: ButtonImage,
	2: ButtonMasks,
	3: ButtonClear,
	4: ButtonPPoint,
	5: ButtonNPoint,
	8: ButtonUndo,
	9: ButtonColorMasks,
}

func (b *Button) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if id, convErr := strconv.Atoi(name); convErr == nil {
			return b.fromNumber(id)
		}
		*b = Button(name)
		return nil
	}
	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownButton, string(data))
	}
	return b.fromNumber(id)
}

func (b *Button) fromNumber(id int) error {
	button, ok := numericButtons[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownButton, id)
	}
	*b = button
	return nil
}

const (
	undoBox       = "box"
	undoPoint     = "point"
	undoInference = "inference-"
)

// SessionConfig Capacities of the bounded histories
type SessionConfig struct {
	UndoCapacity    int
	HistoryCapacity int
}

// Session The annotation state of one user: the current image, the pending prompts and the produced masks.
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	ID         string
	Identifier string

	predictor Predictor
	imageSet  bool

	origin    *image.NRGBA
	processed *image.NRGBA
	union     *Mask
	colored   *image.NRGBA

	prompts Prompts
	masks   []MaskEntry
	mode    Mode
	view    View

	queue      *utils.Ring[string]
	prevInputs *utils.Ring[Prompts]

	lastUsed time.Time
}

// NewSession Create an empty session, an image has to be uploaded before anything else
func NewSession(id string, predictor Predictor, config SessionConfig) *Session {
	if config.UndoCapacity == 0 {
		config.UndoCapacity = 1000
	}
	if config.HistoryCapacity == 0 {
		config.HistoryCapacity = 500
	}
	return &Session{
		ID:         id,
		predictor:  predictor,
		mode:       ModeBox,
		view:       ViewImage,
		queue:      utils.NewRing[string](config.UndoCapacity),
		prevInputs: utils.NewRing[Prompts](config.HistoryCapacity),
		lastUsed:   time.Now(),
	}
}

// Upload Replace the current image, every prompt, mask and history entry is dropped
func (s *Session) Upload(ctx context.Context, data []byte) error {
	img, format, err := utils.DecodeNRGBA(data)
	if err != nil {
		return err
	}
	sum := blake2b.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.Identifier = hex.EncodeToString(sum[:8])
	s.origin = img
	s.imageSet = false
	s.mode = ModeBox
	s.view = ViewImage
	s.resetAll()

	log.WithFields(log.Fields{
		"session":    s.ID,
		"identifier": s.Identifier,
		"format":     format,
		"size":       fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
	}).Info("Image uploaded")

	return s.initPredictor(ctx)
}

func (s *Session) resetAll() {
	s.resetInputs()
	s.resetMasks()
	s.queue.Clear()
	s.prevInputs.Clear()
}

func (s *Session) resetInputs() {
	s.prompts = Prompts{}
}

func (s *Session) resetMasks() {
	s.masks = nil
	s.processed = s.origin
	s.union = NewMask(s.origin.Bounds().Dx(), s.origin.Bounds().Dy())
	s.colored = image.NewNRGBA(s.origin.Bounds())
}

// initPredictor Compute the embedding of the current image once
func (s *Session) initPredictor(ctx context.Context) error {
	if s.imageSet {
		return nil
	}
	if err := s.predictor.SetImage(ctx, s.origin); err != nil {
		return err
	}
	s.imageSet = true
	return nil
}

func (s *Session) touch() {
	s.lastUsed = time.Now()
}

// LastUsed Time of the last operation on this session
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// HasImage Whether an image was uploaded
func (s *Session) HasImage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin != nil
}

// AddBox Add a box prompt for the next inference
func (s *Session) AddBox(box Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.origin == nil {
		return ErrNoImage
	}
	box = box.Normalize()
	if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
		return fmt.Errorf("%w: (%g, %g, %g, %g) is empty", ErrInvalidBox, box.X1, box.Y1, box.X2, box.Y2)
	}
	s.touch()
	s.prompts.Boxes = append(s.prompts.Boxes, box)
	s.queue.Push(undoBox)
	return nil
}

// AddPoint Add a point prompt for the next inference
func (s *Session) AddPoint(point Point, label Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.origin == nil {
		return ErrNoImage
	}
	if label != LabelPositive {
		label = LabelNegative
	}
	s.touch()
	s.prompts.Points = append(s.prompts.Points, point)
	s.prompts.Labels = append(s.prompts.Labels, label)
	s.queue.Push(undoPoint)
	return nil
}

// Click Handle a tool bar button and return the image that should be displayed
func (s *Session) Click(ctx context.Context, button Button) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.origin == nil {
		return nil, ErrNoImage
	}
	s.touch()

	switch button {
	case ButtonBox:
		s.mode = ModeBox
	case ButtonPPoint:
		s.mode = ModePositivePoint
	case ButtonNPoint:
		s.mode = ModeNegativePoint
	case ButtonImage:
		s.view = ViewImage
	case ButtonMasks:
		s.view = ViewMasks
	case ButtonColorMasks:
		s.view = ViewColorMasks
	case ButtonClear:
		s.resetAll()
	case ButtonUndo:
		s.undo()
	case ButtonInference:
		if err := s.inference(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownButton, button)
	}
	return s.display(), nil
}

func (s *Session) display() image.Image {
	switch s.view {
	case ViewMasks:
		return RenderCutout(s.origin, s.union)
	case ViewColorMasks:
		return s.colored
	default:
		return s.processed
	}
}

// inference Turn the pending prompts into masks.
// One box, or points with at most one box, give a single best mask. Several boxes give one mask per box.
func (s *Session) inference(ctx context.Context) error {
	if err := s.initPredictor(ctx); err != nil {
		return err
	}
	points, boxes := len(s.prompts.Points), len(s.prompts.Boxes)
	log.WithFields(log.Fields{
		"session": s.ID,
		"points":  points,
		"boxes":   boxes,
		"masks":   len(s.masks),
	}).Info("Inference")

	start := time.Now()
	var added []MaskEntry
	switch {
	case boxes == 1 || (points > 0 && boxes <= 1):
		req := PredictRequest{
			Points:    s.prompts.Points,
			Labels:    s.prompts.Labels,
			Multimask: true,
		}
		if boxes == 1 {
			req.Box = &s.prompts.Boxes[0]
		}
		prediction, err := s.predictor.Predict(ctx, req)
		if err != nil {
			metrics.InferenceTotal.WithLabelValues("single", "error").Inc()
			return err
		}
		if mask, ok := prediction.Best(); ok {
			added = append(added, MaskEntry{Mask: mask, Opt: OptPositive})
		}
		metrics.InferenceTotal.WithLabelValues("single", "ok").Inc()
	case boxes > 1:
		predictions, err := s.predictor.PredictBatch(ctx, s.prompts.Boxes)
		if err != nil {
			metrics.InferenceTotal.WithLabelValues("batch", "error").Inc()
			return err
		}
		for _, prediction := range predictions {
			if mask, ok := prediction.Best(); ok {
				added = append(added, MaskEntry{Mask: mask, Opt: OptPositive})
			}
		}
		metrics.InferenceTotal.WithLabelValues("batch", "ok").Inc()
	}
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	s.masks = append(s.masks, added...)
	s.render()
	s.prevInputs.Push(s.prompts.clone())
	s.resetInputs()
	s.queue.Push(fmt.Sprintf("%s%d", undoInference, len(added)))
	return nil
}

func (s *Session) render() {
	s.processed, s.union = RenderOverlay(s.origin, s.masks)
	s.colored = RenderColoredMasks(s.origin, s.masks)
}

// undo Revert the newest box, point or inference
func (s *Session) undo() {
	entry, ok := s.queue.Pop()
	if !ok {
		return
	}
	switch {
	case entry == undoBox:
		if n := len(s.prompts.Boxes); n > 0 {
			s.prompts.Boxes = s.prompts.Boxes[:n-1]
		}
	case entry == undoPoint:
		if n := len(s.prompts.Points); n > 0 {
			s.prompts.Points = s.prompts.Points[:n-1]
			s.prompts.Labels = s.prompts.Labels[:n-1]
		}
	case strings.HasPrefix(entry, undoInference):
		n, err := strconv.Atoi(strings.TrimPrefix(entry, undoInference))
		if err != nil {
			log.Warn(fmt.Sprintf("Malformed undo entry %s", entry))
			return
		}
		if n > len(s.masks) {
			n = len(s.masks)
		}
		s.masks = s.masks[:len(s.masks)-n]
		if prompts, ok := s.prevInputs.Pop(); ok {
			s.prompts = prompts
		}
		s.render()
	}
}

// State A read only snapshot of the session
type State struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	Mode       Mode     `json:"mode"`
	View       View     `json:"view"`
	Prompts    Prompts  `json:"prompts"`
	Masks      int      `json:"masks"`
	Undo       []string `json:"undo"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		ID:         s.ID,
		Identifier: s.Identifier,
		Mode:       s.mode,
		View:       s.view,
		Prompts:    s.prompts.clone(),
		Masks:      len(s.masks),
		Undo:       s.queue.Slice(),
	}
	if s.origin != nil {
		state.Width = s.origin.Bounds().Dx()
		state.Height = s.origin.Bounds().Dy()
	}
	return state
}

// SavedFiles Paths of the files written by Save
type SavedFiles struct {
	Overlay    string `json:"overlay"`
	Cutout     string `json:"cutout"`
	ColorMasks string `json:"color_masks"`
	Masks      int    `json:"masks"`
}

// Save Write the overlay, the cut out objects and the colored masks as png files to dir
func (s *Session) Save(dir string) (SavedFiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.origin == nil {
		return SavedFiles{}, ErrNoImage
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SavedFiles{}, err
	}

	prefix := filepath.Join(dir, s.Identifier)
	files := SavedFiles{
		Overlay:    prefix + "_overlay.png",
		Cutout:     prefix + "_cutout.png",
		ColorMasks: prefix + "_color_masks.png",
		Masks:      len(s.masks),
	}
	outputs := []struct {
		path string
		img  image.Image
	}{
		{files.Overlay, s.processed},
		{files.Cutout, RenderCutout(s.origin, s.union)},
		{files.ColorMasks, s.colored},
	}
	for _, output := range outputs {
		buffer, err := utils.ImageToPngBuffer(output.img)
		if err != nil {
			return SavedFiles{}, err
		}
		if err := os.WriteFile(output.path, *buffer, 0o644); err != nil {
			return SavedFiles{}, err
		}
	}
	log.Info(fmt.Sprintf("Saved %d masks of %s to %s", len(s.masks), s.Identifier, dir))
	return files, nil
}
