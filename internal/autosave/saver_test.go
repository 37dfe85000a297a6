package autosave

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type persistRecorder struct {
	mu    sync.Mutex
	codes []string
	langs []string
}

func (r *persistRecorder) persist(code, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
	r.langs = append(r.langs, language)
}

func (r *persistRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

func (r *persistRecorder) last() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return "", ""
	}
	return r.codes[len(r.codes)-1], r.langs[len(r.langs)-1]
}

func TestSaver_RapidEditsPersistOnceWithLastValue(t *testing.T) {
	rec := &persistRecorder{}
	s := NewSaver(50*time.Millisecond, rec.persist, zerolog.Nop())
	defer s.Close()

	s.Edit("v1", "python")
	s.Edit("v2", "python")
	s.Edit("v3", "python")

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	code, lang := rec.last()
	assert.Equal(t, "v3", code)
	assert.Equal(t, "python", lang)

	// No trailing extra persist.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestSaver_SeparateQuietPeriodsPersistSeparately(t *testing.T) {
	rec := &persistRecorder{}
	s := NewSaver(30*time.Millisecond, rec.persist, zerolog.Nop())
	defer s.Close()

	s.Edit("first", "go")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	s.Edit("second", "go")
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	code, _ := rec.last()
	assert.Equal(t, "second", code)
}

func TestSaver_CancelDropsPendingWrite(t *testing.T) {
	rec := &persistRecorder{}
	s := NewSaver(50*time.Millisecond, rec.persist, zerolog.Nop())
	defer s.Close()

	s.Edit("doomed", "go")
	s.Cancel()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.count())

	// The saver stays usable after a cancel.
	s.Edit("alive", "go")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	code, _ := rec.last()
	assert.Equal(t, "alive", code)
}

func TestSaver_CloseIsPermanent(t *testing.T) {
	rec := &persistRecorder{}
	s := NewSaver(50*time.Millisecond, rec.persist, zerolog.Nop())

	s.Edit("pending", "go")
	s.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.count())

	s.Edit("after-close", "go")
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.count())
}
