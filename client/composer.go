package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// AttachmentState — состояние вложения композера.
type AttachmentState int

const (
	// AttachmentNone — вложения нет.
	AttachmentNone AttachmentState = iota
	// AttachmentUploading — файл выбран, идёт загрузка в blob-хранилище.
	AttachmentUploading
	// AttachmentReady — загрузка завершена, ссылка готова к отправке.
	AttachmentReady
	// AttachmentFailed — загрузка не удалась; черновик текста сохранён.
	AttachmentFailed
)

var (
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrUploadInProgress   = errors.New("attachment upload in progress")
	ErrEmptyMessage       = errors.New("nothing to send")
	ErrSubmitInFlight     = errors.New("send already in progress")
)

// Uploader — часть API-клиента, нужная композеру.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (*UploadResult, error)
}

// Composer — состояние ввода сообщения: черновик текста плюс не более одного
// вложения-изображения. Вложение загружается заранее; отправка передаёт
// только ссылку. Отправки сериализованы: пока одна не завершилась, вторая
// не начинается.
type Composer struct {
	uploader Uploader
	maxSize  int64

	mu         sync.Mutex
	draft      string
	state      AttachmentState
	imageURL   string
	attachErr  error
	cancel     context.CancelFunc
	submitting bool
}

// NewComposer создаёт композер. maxSize — потолок размера вложения в байтах,
// проверяется до начала загрузки.
func NewComposer(uploader Uploader, maxSize int64) *Composer {
	return &Composer{uploader: uploader, maxSize: maxSize}
}

func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Composer) AttachmentState() AttachmentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AttachmentError — причина последней неудачи загрузки.
func (c *Composer) AttachmentError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachErr
}

// AttachImage загружает изображение как вложение. size проверяется до
// обращения к серверу: слишком большой файл даже не начинает загружаться.
// Блокирует до конца загрузки; отмена — через CancelAttachment.
func (c *Composer) AttachImage(ctx context.Context, filename string, size int64, r io.Reader) error {
	c.mu.Lock()
	if c.state == AttachmentUploading {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	if size > c.maxSize {
		c.state = AttachmentFailed
		c.attachErr = ErrAttachmentTooLarge
		c.mu.Unlock()
		return ErrAttachmentTooLarge
	}
	uploadCtx, cancel := context.WithCancel(ctx)
	c.state = AttachmentUploading
	c.imageURL = ""
	c.attachErr = nil
	c.cancel = cancel
	c.mu.Unlock()

	result, err := c.uploader.UploadImage(uploadCtx, filename, r)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = nil
	if err != nil {
		if uploadCtx.Err() != nil {
			// Отмена пользователем — возврат в исходное состояние, не ошибка.
			c.state = AttachmentNone
			return nil
		}
		c.state = AttachmentFailed
		c.attachErr = err
		return err
	}
	c.state = AttachmentReady
	c.imageURL = result.URL
	return nil
}

// CancelAttachment прерывает текущую загрузку или убирает готовое вложение.
// Черновик текста не трогает.
func (c *Composer) CancelAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		return
	}
	c.state = AttachmentNone
	c.imageURL = ""
	c.attachErr = nil
}

// CanSubmit — есть что отправлять и отправка возможна прямо сейчас.
func (c *Composer) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Composer) canSubmitLocked() bool {
	if c.submitting || c.state == AttachmentUploading {
		return false
	}
	return strings.TrimSpace(c.draft) != "" || c.state == AttachmentReady
}

// Submit отправляет сообщение через send. Успех очищает черновик и вложение;
// неудача оставляет их нетронутыми для повторной попытки.
func (c *Composer) Submit(send func(text, imageURL string) error) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if c.state == AttachmentUploading {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	// Пробельный черновик не отправляется: пустота решается локально,
	// без похода на сервер.
	text := strings.TrimSpace(c.draft)
	imageURL := ""
	if c.state == AttachmentReady {
		imageURL = c.imageURL
	}
	if text == "" && imageURL == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	c.submitting = true
	c.mu.Unlock()

	err := send(text, imageURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		return err
	}
	c.draft = ""
	c.state = AttachmentNone
	c.imageURL = ""
	c.attachErr = nil
	return nil
}
