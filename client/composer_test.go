package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	result  *UploadResult
	err     error
	block   chan struct{} // если не nil — загрузка висит до закрытия или отмены ctx
	calls   int
}

func (f *fakeUploader) UploadImage(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestComposerAttachAndSubmit(t *testing.T) {
	up := &fakeUploader{result: &UploadResult{URL: "/api/files/abc.png"}}
	c := NewComposer(up, 5<<20)

	c.SetDraft("look at this")
	require.NoError(t, c.AttachImage(context.Background(), "photo.png", 100, strings.NewReader("img")))
	assert.Equal(t, AttachmentReady, c.AttachmentState())

	var sentText, sentURL string
	err := c.Submit(func(text, imageURL string) error {
		sentText, sentURL = text, imageURL
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "look at this", sentText)
	assert.Equal(t, "/api/files/abc.png", sentURL)

	// Успех очищает и черновик, и вложение.
	assert.Empty(t, c.Draft())
	assert.Equal(t, AttachmentNone, c.AttachmentState())
}

func TestComposerSizePreCheck(t *testing.T) {
	up := &fakeUploader{result: &UploadResult{URL: "/x"}}
	c := NewComposer(up, 1024)

	err := c.AttachImage(context.Background(), "big.png", 2048, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)
	assert.Equal(t, AttachmentFailed, c.AttachmentState())
	// Загрузка даже не начиналась.
	assert.Equal(t, 0, up.calls)
}

func TestComposerUploadFailurePreservesDraft(t *testing.T) {
	up := &fakeUploader{err: errors.New("network down")}
	c := NewComposer(up, 5<<20)

	c.SetDraft("keep me")
	err := c.AttachImage(context.Background(), "photo.png", 10, strings.NewReader("img"))
	require.Error(t, err)
	assert.Equal(t, AttachmentFailed, c.AttachmentState())
	assert.Equal(t, "keep me", c.Draft())
}

func TestComposerCancelUpload(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), result: &UploadResult{URL: "/x"}}
	c := NewComposer(up, 5<<20)

	done := make(chan error, 1)
	go func() {
		done <- c.AttachImage(context.Background(), "photo.png", 10, strings.NewReader("img"))
	}()

	require.Eventually(t, func() bool {
		return c.AttachmentState() == AttachmentUploading
	}, time.Second, 5*time.Millisecond)

	c.CancelAttachment()
	require.NoError(t, <-done)
	// Отмена — не ошибка: вложение просто исчезает.
	assert.Equal(t, AttachmentNone, c.AttachmentState())
}

func TestComposerSubmitRules(t *testing.T) {
	c := NewComposer(&fakeUploader{}, 5<<20)

	t.Run("empty", func(t *testing.T) {
		err := c.Submit(func(string, string) error { return nil })
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("whitespace-only draft is a local no-op", func(t *testing.T) {
		c.SetDraft("   \n\t")
		assert.False(t, c.CanSubmit())
		var calls int
		err := c.Submit(func(string, string) error { calls++; return nil })
		assert.ErrorIs(t, err, ErrEmptyMessage)
		assert.Equal(t, 0, calls)
		c.SetDraft("")
	})

	t.Run("draft is sent trimmed", func(t *testing.T) {
		c.SetDraft("  hello there  ")
		var sent string
		require.NoError(t, c.Submit(func(text, _ string) error {
			sent = text
			return nil
		}))
		assert.Equal(t, "hello there", sent)
	})

	t.Run("failure preserves draft", func(t *testing.T) {
		c.SetDraft("retry me")
		err := c.Submit(func(string, string) error { return errors.New("send failed") })
		require.Error(t, err)
		assert.Equal(t, "retry me", c.Draft())
	})

	t.Run("serialized", func(t *testing.T) {
		c.SetDraft("hello")
		started := make(chan struct{})
		release := make(chan struct{})
		go c.Submit(func(string, string) error {
			close(started)
			<-release
			return nil
		})
		<-started
		err := c.Submit(func(string, string) error { return nil })
		assert.ErrorIs(t, err, ErrSubmitInFlight)
		close(release)
	})
}

func TestComposerSubmitBlockedWhileUploading(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), result: &UploadResult{URL: "/x"}}
	c := NewComposer(up, 5<<20)
	c.SetDraft("text")

	go c.AttachImage(context.Background(), "photo.png", 10, strings.NewReader("img"))
	require.Eventually(t, func() bool {
		return c.AttachmentState() == AttachmentUploading
	}, time.Second, 5*time.Millisecond)

	err := c.Submit(func(string, string) error { return nil })
	assert.ErrorIs(t, err, ErrUploadInProgress)
	assert.False(t, c.CanSubmit())
	close(up.block)
}
