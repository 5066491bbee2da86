package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	// До первичной загрузки — всегда Wait, независимо от экрана и пользователя.
	assert.Equal(t, DecisionWait, Decide(false, false, RouteEntry))
	assert.Equal(t, DecisionWait, Decide(false, true, RouteEntry))
	assert.Equal(t, DecisionWait, Decide(false, false, RouteRoom))
	assert.Equal(t, DecisionWait, Decide(false, true, RouteRoom))

	// После загрузки: экран соответствует состоянию → Render.
	assert.Equal(t, DecisionRender, Decide(true, false, RouteEntry))
	assert.Equal(t, DecisionRender, Decide(true, true, RouteRoom))

	// Несоответствие → редирект.
	assert.Equal(t, DecisionRedirectToRoom, Decide(true, true, RouteEntry))
	assert.Equal(t, DecisionRedirectToEntry, Decide(true, false, RouteRoom))
}

func TestDecideIdempotent(t *testing.T) {
	first := Decide(true, true, RouteEntry)
	second := Decide(true, true, RouteEntry)
	assert.Equal(t, first, second)

	// После выполнения редиректа новый вход даёт Render — повторных редиректов нет.
	assert.Equal(t, DecisionRender, Decide(true, true, RouteRoom))
}
