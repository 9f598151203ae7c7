// Package pipeline implements the ordered transform pipeline applied to
// measurement tables: missing-value imputation (MNAR, then MCAR),
// normalization, transformation and scaling.
//
// Each stage is selected by a method name looked up in an immutable
// Registry. The empty name (or "none") selects the identity: the input frame
// itself is returned. Unknown names fail with an InvalidMethod error and leave
// the input untouched.
package pipeline

import (
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"github.com/paveg/metabulo/internal/common"
	"github.com/paveg/metabulo/internal/errors"
)

// Stage identifies one step of the pipeline.
type Stage int

const (
	ImputationMNAR Stage = iota
	ImputationMCAR
	Normalization
	Transformation
	Scaling
)

// Order is the fixed application order of the stages.
var Order = []Stage{ImputationMNAR, ImputationMCAR, Normalization, Transformation, Scaling}

func (s Stage) String() string { return common.FormatStage(int(s)) }

// ParseStage parses a stage name such as "normalization".
func ParseStage(name string) (Stage, error) {
	v, ok := common.ParseStage(name)
	if !ok {
		return 0, errors.NewInvalidInputError("ParseStage", fmt.Sprintf("unknown stage %q", name))
	}
	return Stage(v), nil
}

// None is the method name of the identity transform.
const None = ""

// IsNone reports whether a method name selects the identity transform.
func IsNone(method string) bool {
	m := strings.TrimSpace(method)
	return m == None || strings.EqualFold(m, "none")
}

// Config selects one method per stage. Empty fields are identity stages.
type Config struct {
	ImputationMCAR string `json:"imputation_mcar" yaml:"imputation_mcar"`
	ImputationMNAR string `json:"imputation_mnar" yaml:"imputation_mnar"`
	Normalization  string `json:"normalization" yaml:"normalization"`
	Transformation string `json:"transformation" yaml:"transformation"`
	Scaling        string `json:"scaling" yaml:"scaling"`
}

// Method returns the method configured for stage, normalized so that the
// identity is always None.
func (c Config) Method(stage Stage) string {
	var m string
	switch stage {
	case ImputationMNAR:
		m = c.ImputationMNAR
	case ImputationMCAR:
		m = c.ImputationMCAR
	case Normalization:
		m = c.Normalization
	case Transformation:
		m = c.Transformation
	case Scaling:
		m = c.Scaling
	}
	if IsNone(m) {
		return None
	}
	return strings.TrimSpace(m)
}

// With returns a copy of c with stage set to method.
func (c Config) With(stage Stage, method string) Config {
	if IsNone(method) {
		method = None
	}
	switch stage {
	case ImputationMNAR:
		c.ImputationMNAR = method
	case ImputationMCAR:
		c.ImputationMCAR = method
	case Normalization:
		c.Normalization = method
	case Transformation:
		c.Transformation = method
	case Scaling:
		c.Scaling = method
	}
	return c
}

// IsIdentity reports whether every stage is the identity.
func (c Config) IsIdentity() bool {
	for _, s := range Order {
		if c.Method(s) != None {
			return false
		}
	}
	return true
}

// WriteFingerprint feeds the normalized method names into h.
func (c Config) WriteFingerprint(h hash.Hash64) {
	var buf [8]byte
	for _, s := range Order {
		m := c.Method(s)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(m)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(m))
	}
}
