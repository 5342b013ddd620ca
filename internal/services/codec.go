package services

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/shepherd-project/corral/internal/metrics"
)

// Wire layout of a facade handle:
//
//	message Handle     { ContextRef context = 1; }
//	message ContextRef { string name = 1; }
//
// Projection, subject and registry state are never written. The receiving
// node resolves the reference to its own canonical facade.
const (
	fieldHandleContext protowire.Number = 1
	fieldContextName   protowire.Number = 1
)

var (
	errNilFacade    = errors.New("facade is nil")
	errMissingRef   = errors.New("handle carries no context reference")
	errEmptyName    = errors.New("context reference has an empty name")
	errEmptySlot    = errors.New("no context staged for resolution")
	errNoFacade     = errors.New("context produced no facade")
	errNilDirectory = errors.New("codec has no context directory")
)

// Directory looks up the execution contexts living in this process
type Directory interface {
	Context(name string) (ExecutionContext, error)
}

// Resolver turns a local execution context into the facade to hand out
type Resolver func(ctx ExecutionContext) (*Facade, error)

// CanonicalResolver returns the context's canonical services facade
func CanonicalResolver(ctx ExecutionContext) (*Facade, error) {
	return ctx.Grid().Services()
}

// Codec encodes facades to context-reference tokens and decodes tokens into
// the local canonical facade.
type Codec struct {
	dir     Directory
	resolve Resolver
	metrics *metrics.Metrics
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithResolver replaces the default CanonicalResolver
func WithResolver(r Resolver) CodecOption {
	return func(c *Codec) {
		if r != nil {
			c.resolve = r
		}
	}
}

// WithMetrics records encode/decode counts
func WithMetrics(m *metrics.Metrics) CodecOption {
	return func(c *Codec) {
		c.metrics = m
	}
}

// NewCodec creates a codec resolving names through dir
func NewCodec(dir Directory, opts ...CodecOption) *Codec {
	c := &Codec{dir: dir, resolve: CanonicalResolver}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stagingSlot holds the context decoded from one token until it is resolved.
// Each decode uses its own slot.
type stagingSlot struct {
	ctx ExecutionContext
}

func (s *stagingSlot) clear() {
	s.ctx = nil
}

// Marshal encodes f as a reference to its execution context
func (c *Codec) Marshal(f *Facade) (data []byte, err error) {
	defer func() { c.metrics.RecordHandle("marshal", err) }()

	if f == nil || f.ctx == nil {
		return nil, errNilFacade
	}

	var ref []byte
	ref = protowire.AppendTag(ref, fieldContextName, protowire.BytesType)
	ref = protowire.AppendString(ref, f.ctx.Name())

	data = protowire.AppendTag(data, fieldHandleContext, protowire.BytesType)
	data = protowire.AppendBytes(data, ref)
	return data, nil
}

// Unmarshal decodes a token and returns the local canonical facade of the
// referenced context. Failures are *ObjectReconstructionError.
func (c *Codec) Unmarshal(data []byte) (f *Facade, err error) {
	defer func() { c.metrics.RecordHandle("unmarshal", err) }()

	return c.unmarshalInto(data, &stagingSlot{})
}

func (c *Codec) unmarshalInto(data []byte, slot *stagingSlot) (*Facade, error) {
	defer slot.clear()

	if err := c.stage(data, slot); err != nil {
		return nil, &ObjectReconstructionError{Cause: err}
	}
	f, err := c.resolveSlot(slot)
	if err != nil {
		return nil, &ObjectReconstructionError{Cause: err}
	}
	return f, nil
}

// stage decodes the context reference and looks the context up
func (c *Codec) stage(data []byte, slot *stagingSlot) error {
	name, err := decodeContextName(data)
	if err != nil {
		return err
	}
	if c.dir == nil {
		return errNilDirectory
	}
	ctx, err := c.dir.Context(name)
	if err != nil {
		return err
	}
	slot.ctx = ctx
	return nil
}

func (c *Codec) resolveSlot(slot *stagingSlot) (*Facade, error) {
	if slot.ctx == nil {
		return nil, errEmptySlot
	}
	f, err := c.resolve(slot.ctx)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errNoFacade
	}
	return f, nil
}

func decodeContextName(data []byte) (string, error) {
	var (
		ref   []byte
		found bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", fmt.Errorf("decode handle tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldHandleContext && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return "", fmt.Errorf("decode context reference: %w", protowire.ParseError(m))
			}
			ref, found = v, true
			data = data[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return "", fmt.Errorf("skip handle field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	if !found {
		return "", errMissingRef
	}

	var name string
	for len(ref) > 0 {
		num, typ, n := protowire.ConsumeTag(ref)
		if n < 0 {
			return "", fmt.Errorf("decode context reference tag: %w", protowire.ParseError(n))
		}
		ref = ref[n:]

		if num == fieldContextName && typ == protowire.BytesType {
			v, m := protowire.ConsumeString(ref)
			if m < 0 {
				return "", fmt.Errorf("decode context name: %w", protowire.ParseError(m))
			}
			name = v
			ref = ref[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, ref)
		if m < 0 {
			return "", fmt.Errorf("skip context reference field %d: %w", num, protowire.ParseError(m))
		}
		ref = ref[m:]
	}
	if name == "" {
		return "", errEmptyName
	}
	return name, nil
}
