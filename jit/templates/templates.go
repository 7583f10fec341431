// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package templates instantiates shape-parameterized LLVM IR templates of matrix multiplication kernels.
//
// A template is LLVM IR text with placeholders, that after substitution describes a kernel for exactly one
// shape. The kernel is a function with the signature
//
//	void @entry(ptr a, ptr b, ptr c)
//
// where a, b and c are column-major float32 buffers with shapes m×k, k×n and m×n.
//
// The placeholders recognized are:
//
//   - {M}, {N}, {K}: the dimensions of the multiplication.
//   - {VEC_A_SIZE}, {VEC_B_SIZE}, {VEC_C_SIZE}: the number of elements of A (m·k), B (k·n) and C (m·n).
//   - {A_STRIDE}, {B_STRIDE}, {C_STRIDE}: the column-major strides (leading dimensions) of A (m), B (k) and C (m).
package templates

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/llmatmul/internal/fsutil"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Placeholders substituted by Instantiate.
const (
	PlaceholderM        = "{M}"
	PlaceholderN        = "{N}"
	PlaceholderK        = "{K}"
	PlaceholderVecASize = "{VEC_A_SIZE}"
	PlaceholderVecBSize = "{VEC_B_SIZE}"
	PlaceholderVecCSize = "{VEC_C_SIZE}"
	PlaceholderAStride  = "{A_STRIDE}"
	PlaceholderBStride  = "{B_STRIDE}"
	PlaceholderCStride  = "{C_STRIDE}"
)

// ErrTemplate is returned (wrapped) when a template can't be read or is not shape-parameterized.
var ErrTemplate = errors.New("template error")

const (
	// EnvTemplate is the environment variable with the path to a file with an IR template that
	// overrides the default one. A leading "~" is expanded to the user's home directory.
	EnvTemplate = "LL_MATMUL_TEMPLATE"

	// EnvEntryPoint is the environment variable with the name of the kernel function in the template.
	EnvEntryPoint = "LL_MATMUL_TEMPLATE_FUNCTION_NAME"

	// DefaultEntryPoint is the name of the kernel function in the default template.
	DefaultEntryPoint = "ll_matmul_jit"

	// OriginDefault is the Template.Origin of the embedded default template.
	OriginDefault = "default"
)

// LargeDimension is the side of the largest cube shape the default (naive) template handles well: above
// it, the size of the lowered code blows up, and with it the memory used by the compiler.
//
// The compilation is not refused, only a warning is logged: it's up to the caller to route larger
// shapes elsewhere (see jit.WithMaxVolume).
const LargeDimension = 32

// LargeVolume is the m·n·k volume above which a shape is considered large for the default template.
const LargeVolume = LargeDimension * LargeDimension * LargeDimension

// IsLarge returns whether shape is above LargeVolume.
func IsLarge(shape shapes.MatMul) bool {
	return shape.Volume() > LargeVolume
}

//go:embed matmul_intrinsic_naive.tmpl
var naiveTemplate string

// Template is an IR template along with the name of its kernel function.
// It is immutable and safe for concurrent use.
type Template struct {
	// Text of the template, with the placeholders.
	Text string

	// EntryPoint is the name of the kernel function defined by the template.
	EntryPoint string

	// Origin describes where the template came from: OriginDefault, a file path or "user".
	Origin string
}

// New creates a Template from text. If entryPoint is empty, DefaultEntryPoint is used.
func New(text, entryPoint string) *Template {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	return &Template{Text: text, EntryPoint: entryPoint, Origin: "user"}
}

// Default returns the embedded naive template, which uses LLVM's matrix intrinsics.
func Default() *Template {
	return &Template{Text: naiveTemplate, EntryPoint: DefaultEntryPoint, Origin: OriginDefault}
}

// Resolve returns the template configured by the environment:
//
// 1. If EnvTemplate is set, the template is read from the file it points to.
// 2. Otherwise the embedded default template is used.
//
// In both cases, if EnvEntryPoint is set, it overrides the name of the kernel function.
func Resolve() (*Template, error) {
	tmpl := Default()
	if path, found := os.LookupEnv(EnvTemplate); found && path != "" {
		contents, err := fsutil.ReadConfigured(path, EnvTemplate)
		if err != nil {
			return nil, errors.Wrapf(ErrTemplate, "%v", err)
		}
		tmpl = &Template{Text: string(contents), EntryPoint: DefaultEntryPoint, Origin: path}
		klog.V(1).Infof("using IR template from %s=%q", EnvTemplate, path)
	}
	if entryPoint, found := os.LookupEnv(EnvEntryPoint); found && entryPoint != "" {
		tmpl.EntryPoint = entryPoint
	}
	return tmpl, nil
}

// IsDefault returns whether this is the embedded naive template.
func (t *Template) IsDefault() bool {
	return t.Origin == OriginDefault
}

// String implements fmt.Stringer.
func (t *Template) String() string {
	return "Template(" + t.Origin + ", @" + t.EntryPoint + ")"
}

// Instantiate substitutes the placeholders of the template for the given shape.
//
// It logs a warning if the default template is used with a shape large enough that lowering
// it may exhaust the memory of the compiler.
func (t *Template) Instantiate(shape shapes.MatMul) (string, error) {
	if t.IsDefault() && IsLarge(shape) {
		klog.Warningf("instantiating the default (naive) IR template for %s: volumes > %d may explode "+
			"the size of the lowered code and exhaust the memory of the compiler -- consider a blocked template "+
			"(%s) or a lower jit.WithMaxVolume", shape, LargeVolume, EnvTemplate)
	}
	ir, err := Instantiate(t.Text, shape)
	if err != nil {
		return "", errors.WithMessagef(err, "template %s", t)
	}
	return ir, nil
}

// Instantiate substitutes the placeholders of text for the given shape.
//
// It fails with ErrTemplate if text has none of the dimension placeholders ({M}, {N}, {K}): that
// usually means a fixed-shape IR was given where a template was expected.
// And it fails with shapes.ErrInvalidInput if shape is not valid.
func Instantiate(text string, shape shapes.MatMul) (string, error) {
	if err := shape.Validate(); err != nil {
		return "", err
	}
	if !IsParameterized(text) {
		return "", errors.Wrapf(ErrTemplate, "IR has none of the placeholders %s, %s or %s, it is not a shape-parameterized template",
			PlaceholderM, PlaceholderN, PlaceholderK)
	}
	itoa := strconv.Itoa
	replacer := strings.NewReplacer(
		PlaceholderM, itoa(shape.M),
		PlaceholderN, itoa(shape.N),
		PlaceholderK, itoa(shape.K),
		PlaceholderVecASize, itoa(shape.M*shape.K),
		PlaceholderVecBSize, itoa(shape.K*shape.N),
		PlaceholderVecCSize, itoa(shape.M*shape.N),
		PlaceholderAStride, itoa(shape.M),
		PlaceholderBStride, itoa(shape.K),
		PlaceholderCStride, itoa(shape.M),
	)
	return replacer.Replace(text), nil
}

// IsParameterized returns whether text has at least one of the dimension placeholders.
func IsParameterized(text string) bool {
	return strings.Contains(text, PlaceholderM) || strings.Contains(text, PlaceholderN) ||
		strings.Contains(text, PlaceholderK)
}
