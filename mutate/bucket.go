package mutate

import (
	"errors"
	"fmt"
)

// BucketID identifies a bucket of the scalar table.
type BucketID string

// Range is an inclusive numeric interval.
type Range struct {
	Min uint64 `yaml:"min"`
	Max uint64 `yaml:"max"`
}

// Bucket tags.
const (
	TagRange    = "range"    // uniform in Range
	TagSentinel = "sentinel" // all bits set for the scalar's width
	TagUniform  = "uniform"  // uniform over the scalar's width
)

// Bucket is one row of the weighted scalar table.
type Bucket struct {
	ID          BucketID `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Range       Range    `yaml:"range,omitempty"`
	Tag         string   `yaml:"tag"`
	Weight      int      `yaml:"weight"`
}

// Odds is a For:Against ratio.
type Odds struct {
	For     uint64 `yaml:"for"`
	Against uint64 `yaml:"against"`
}

// Config is the tunable part of the mutator.
type Config struct {
	Buckets []Bucket `yaml:"buckets"`
	// EnumBias is the odds of treating an enum as its raw underlying integer
	// instead of picking a declared symbol.
	EnumBias Odds `yaml:"enum_bias"`
	// FuncMutated is the odds of mutating an argument of an existing call
	// rather than replacing the call.
	FuncMutated  Odds `yaml:"func_mutated"`
	MaxVectorLen int  `yaml:"max_vector_len"`
	MaxStringLen int  `yaml:"max_string_len"`
}

// DefaultBuckets is the documented scalar table: 30% in [0,10), 30% in
// [0,100), 30% in [0,1000), 1% sentinel and 9% uniform.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{ID: "tiny", Description: "uniform in [0,10)", Range: Range{0, 9}, Tag: TagRange, Weight: 30},
		{ID: "small", Description: "uniform in [0,100)", Range: Range{0, 99}, Tag: TagRange, Weight: 30},
		{ID: "medium", Description: "uniform in [0,1000)", Range: Range{0, 999}, Tag: TagRange, Weight: 30},
		{ID: "sentinel", Description: "all bits set", Tag: TagSentinel, Weight: 1},
		{ID: "uniform", Description: "uniform over the full width", Tag: TagUniform, Weight: 9},
	}
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Buckets:      DefaultBuckets(),
		EnumBias:     Odds{For: 1, Against: 1000},
		FuncMutated:  Odds{For: 100, Against: 1},
		MaxVectorLen: 8,
		MaxStringLen: 16,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if len(c.Buckets) == 0 {
		return errors.New("mutator: no scalar buckets")
	}
	total := 0
	for _, b := range c.Buckets {
		switch b.Tag {
		case TagRange:
			if b.Range.Max < b.Range.Min {
				return fmt.Errorf("mutator: bucket %s has an empty range", b.ID)
			}
		case TagSentinel, TagUniform:
		default:
			return fmt.Errorf("mutator: bucket %s has unknown tag %q", b.ID, b.Tag)
		}
		if b.Weight < 0 {
			return fmt.Errorf("mutator: bucket %s has negative weight", b.ID)
		}
		total += b.Weight
	}
	if total == 0 {
		return errors.New("mutator: bucket weights sum to zero")
	}
	if c.EnumBias.For+c.EnumBias.Against == 0 || c.FuncMutated.For+c.FuncMutated.Against == 0 {
		return errors.New("mutator: odds must not be 0:0")
	}
	if c.MaxVectorLen < 0 || c.MaxStringLen < 0 {
		return errors.New("mutator: negative length bound")
	}
	return nil
}
