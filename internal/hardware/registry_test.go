package hardware

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFirstWins(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Register("CPU", NewCPU))
	assert.False(t, r.Register("CPU", func() Handler { return &CPU{} }), "duplicate name must be rejected")
	assert.False(t, r.Register("", NewCPU))
	assert.False(t, r.Register("GPU", nil))
}

func TestCreateBindsName(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Register("YoloV7", NewCPU))

	h, err := r.Create("YoloV7")
	require.NoError(t, err)
	assert.Equal(t, "YoloV7", h.TypeName())

	other, err := r.Create("YoloV7")
	require.NoError(t, err)
	assert.NotSame(t, h, other, "each Create returns a fresh instance")
}

func TestCreateUnknown(t *testing.T) {
	r := NewRegistry()
	h, err := r.Create("Tesseract")
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.Contains(t, err.Error(), "Tesseract")
}

func TestRegisteredTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"OCR", "CPU", "GPU"} {
		r.Register(name, NewCPU)
	}
	assert.Equal(t, []string{"CPU", "GPU", "OCR"}, r.RegisteredTypes())
	assert.True(t, r.Has("GPU"))
	assert.False(t, r.Has("LPR"))
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	r.Register("CPU", NewCPU)

	assert.NoError(t, r.Validate("CPU"))
	err := r.Validate("CPU", "LPR")
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.Contains(t, err.Error(), "LPR")
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	wins := make(chan bool, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.Register("CPU", NewCPU)
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one registration may win")
}
