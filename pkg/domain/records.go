package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// RecordKind names a persisted record type.
type RecordKind string

// Record kinds stored in the ledger.
const (
	RecordProfile RecordKind = "profile"
	RecordTask    RecordKind = "task"
)

// Fixed record layout. Sizes are the exact allocation passed to the ledger
// and the exact amount refunded on deallocation.
const (
	DiscriminatorSize = 8
	MaxContentLength  = 280
	// MaxTasks is the size of the per-owner task index space.
	MaxTasks = 256

	ProfileSize = DiscriminatorSize + KeySize + 2 + 2
	TaskSize    = DiscriminatorSize + KeySize + 1 + 2 + MaxContentLength + 1
)

var (
	profileDiscriminator = discriminator("ProfileRecord")
	taskDiscriminator    = discriminator("TaskRecord")
)

func discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

// KindOf inspects the discriminator of raw account data.
func KindOf(data []byte) (RecordKind, bool) {
	if len(data) < DiscriminatorSize {
		return "", false
	}
	switch {
	case len(data) == ProfileSize && bytes.Equal(data[:DiscriminatorSize], profileDiscriminator[:]):
		return RecordProfile, true
	case len(data) == TaskSize && bytes.Equal(data[:DiscriminatorSize], taskDiscriminator[:]):
		return RecordTask, true
	default:
		return "", false
	}
}

// ProfileRecord aggregates an owner's task counters.
type ProfileRecord struct {
	Owner        Identity `json:"owner"`
	TotalCreated uint16   `json:"total_created"`
	ActiveCount  uint16   `json:"active_count"`
}

// NextIndex returns the index the next task will receive.
func (p ProfileRecord) NextIndex() (uint8, error) {
	if p.TotalCreated >= MaxTasks {
		return 0, ErrIndexSpaceExhausted
	}
	return uint8(p.TotalCreated), nil
}

// RecordCreated bumps both counters with overflow checks.
func (p *ProfileRecord) RecordCreated() error {
	if p.TotalCreated == math.MaxUint16 || p.ActiveCount == math.MaxUint16 {
		return ErrCounterOverflow
	}
	p.TotalCreated++
	p.ActiveCount++
	return nil
}

// RecordDeleted decrements the active counter. TotalCreated is left alone
// so retired indices are never handed out again.
func (p *ProfileRecord) RecordDeleted() error {
	if p.ActiveCount == 0 {
		return ErrUnderflow
	}
	p.ActiveCount--
	return nil
}

// MarshalBinary encodes the profile into its fixed layout.
func (p ProfileRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ProfileSize)
	off := copy(buf, profileDiscriminator[:])
	off += copy(buf[off:], p.Owner[:])
	binary.LittleEndian.PutUint16(buf[off:], p.TotalCreated)
	binary.LittleEndian.PutUint16(buf[off+2:], p.ActiveCount)
	return buf, nil
}

// UnmarshalBinary decodes a profile from its fixed layout.
func (p *ProfileRecord) UnmarshalBinary(data []byte) error {
	if kind, ok := KindOf(data); !ok || kind != RecordProfile {
		return fmt.Errorf("%w: not a profile record", ErrInvalidRecord)
	}
	off := DiscriminatorSize
	var out ProfileRecord
	off += copy(out.Owner[:], data[off:off+KeySize])
	out.TotalCreated = binary.LittleEndian.Uint16(data[off:])
	out.ActiveCount = binary.LittleEndian.Uint16(data[off+2:])
	*p = out
	return nil
}

// TaskRecord is a single task owned by one identity.
type TaskRecord struct {
	Owner   Identity `json:"owner"`
	Index   uint8    `json:"index"`
	Content string   `json:"content"`
	Done    bool     `json:"done"`
}

// ValidateContent checks that content fits the fixed task layout.
func ValidateContent(content string) error {
	if len(content) > MaxContentLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLong, len(content), MaxContentLength)
	}
	return nil
}

// MarshalBinary encodes the task into its fixed layout.
func (t TaskRecord) MarshalBinary() ([]byte, error) {
	if err := ValidateContent(t.Content); err != nil {
		return nil, err
	}
	buf := make([]byte, TaskSize)
	off := copy(buf, taskDiscriminator[:])
	off += copy(buf[off:], t.Owner[:])
	buf[off] = t.Index
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(t.Content)))
	off += 2
	copy(buf[off:], t.Content)
	off += MaxContentLength
	if t.Done {
		buf[off] = 1
	}
	return buf, nil
}

// UnmarshalBinary decodes a task from its fixed layout.
func (t *TaskRecord) UnmarshalBinary(data []byte) error {
	if kind, ok := KindOf(data); !ok || kind != RecordTask {
		return fmt.Errorf("%w: not a task record", ErrInvalidRecord)
	}
	off := DiscriminatorSize
	var out TaskRecord
	off += copy(out.Owner[:], data[off:off+KeySize])
	out.Index = data[off]
	off++
	n := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if n > MaxContentLength {
		return fmt.Errorf("%w: content length %d", ErrInvalidRecord, n)
	}
	out.Content = string(data[off : off+n])
	off += MaxContentLength
	switch data[off] {
	case 0:
	case 1:
		out.Done = true
	default:
		return fmt.Errorf("%w: done flag %d", ErrInvalidRecord, data[off])
	}
	*t = out
	return nil
}
