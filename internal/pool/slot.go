package pool

import (
	"context"
	"fmt"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

// completionHandler receives a slot's outcome. It is called exactly once per
// started operation, on the backend's goroutine.
type completionHandler interface {
	onSlotComplete(id int, err error)
}

// Slot is one reusable inference context plus the item bound to it and a
// private result buffer. A slot belongs to at most one pool, or to none when
// used directly for synchronous inference.
type Slot struct {
	id     int
	req    backend.Request
	inputs []string
	post   postprocess.Func
	owner  completionHandler

	item model.Item
	buf  model.ResultBuffer
	// mark is the buffer entry where the in-flight operation's results begin.
	mark int
}

// NewSlot wraps req as slot id. inputs lists the model input names in the
// positional order of Item.Tensors.
func NewSlot(id int, req backend.Request, inputs []string, post postprocess.Func) *Slot {
	return &Slot{id: id, req: req, inputs: inputs, post: post}
}

// ID returns the slot's index within its pool.
func (s *Slot) ID() int {
	return s.id
}

// Assign binds item's tensors positionally to the model inputs, replacing any
// earlier binding.
func (s *Slot) Assign(item model.Item) error {
	if len(item.Tensors) != len(s.inputs) {
		return fmt.Errorf("%w: %d tensors for %d inputs", ErrInvalidBinding, len(item.Tensors), len(s.inputs))
	}
	for i, name := range s.inputs {
		if err := s.req.SetInput(name, item.Tensors[i]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBinding, err)
		}
	}
	s.item = item
	return nil
}

// Start begins the operation for the assigned item and returns at once.
func (s *Slot) Start() {
	s.req.StartAsync(s.complete)
}

// InferSync runs the assigned item to completion on the calling goroutine and
// returns its responses. They alias the slot's buffer and are valid until the
// next call.
func (s *Slot) InferSync(ctx context.Context) ([]model.Response, error) {
	s.buf.Reset()
	if err := s.req.Infer(ctx); err != nil {
		return nil, &SlotFault{Slot: s.id, Err: err}
	}
	if err := s.postprocess(); err != nil {
		return nil, &SlotFault{Slot: s.id, Err: err}
	}
	return s.buf.ResponsesFrom(0), nil
}

// Reset empties the result buffer. The backend request is untouched.
func (s *Slot) Reset() {
	s.buf.Reset()
	s.mark = 0
}

// responses returns the windows produced by the most recent operation.
func (s *Slot) responses() []model.Response {
	return s.buf.ResponsesFrom(s.mark)
}

func (s *Slot) complete(err error) {
	if err == nil {
		err = s.postprocess()
	}
	s.owner.onSlotComplete(s.id, err)
}

func (s *Slot) postprocess() error {
	s.mark = s.buf.Len()
	if err := s.post(s.item, s.req, &s.buf); err != nil {
		s.buf.Truncate(s.mark)
		return fmt.Errorf("post-process: %w", err)
	}
	return nil
}
