// Package coordinator 串行化多个 UI 会话并发发来的
// 相关性/选择更新。
//
// 每个 (contextID, contentID) 键是一台独立的状态机：
//
//	Confirmed -> PendingOptimistic -> Confirmed        （服务端接受）
//	Confirmed -> PendingOptimistic -> Confirmed(旧值)  （服务端拒绝，回滚）
//
// 更新先乐观生效并立即返回给调用方，随后入队持久化。
// 同键短窗口内的相关性连发（滑杆交互）折叠为最后一个值，
// 但每个中间值都反映在乐观读路径上。每键最多一笔在途写；
// 在途期间到达的新值取代挂起值，不派生第二笔并发写——
// 在途写完成后若存在取代值再补一笔。持久化失败时恢复
// 确认值并推送失败事件，绝不盲目重试。
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
)

// EventType 事件类型
type EventType string

const (
	// EventRelevanceConfirmed 相关性更新已被服务端确认
	EventRelevanceConfirmed EventType = "relevance_confirmed"
	// EventSelectionConfirmed 选择更新已被服务端确认
	EventSelectionConfirmed EventType = "selection_confirmed"
	// EventRelevanceUpdateFailed 相关性更新被拒绝，已回滚
	EventRelevanceUpdateFailed EventType = "relevance_update_failed"
	// EventSelectionUpdateFailed 选择更新被拒绝，已回滚
	EventSelectionUpdateFailed EventType = "selection_update_failed"
)

// Event 推送给外部通知层的事件
type Event struct {
	// Type 事件类型
	Type EventType
	// ContextID 上下文 ID
	ContextID string
	// ContentID 内容 ID
	ContentID string
	// Relevance 确认/回滚后的生效相关性
	Relevance float64
	// Selected 确认/回滚后的生效选择状态
	Selected bool
	// Err 失败事件的原因
	Err error
}

// PersistRelevanceFunc 相关性持久化回调
type PersistRelevanceFunc func(ctx context.Context, contextID, contentID string, score float64) error

// PersistSelectionFunc 选择持久化回调
type PersistSelectionFunc func(ctx context.Context, contextID, contentID string, selected bool) error

// LoadRelevanceFunc 确认相关性的初始加载回调
type LoadRelevanceFunc func(ctx context.Context, contextID, contentID string) (float64, error)

// LoadSelectionFunc 确认选择状态的初始加载回调
type LoadSelectionFunc func(ctx context.Context, contextID, contentID string) (bool, error)

// Key 状态机的键
type Key struct {
	ContextID string
	ContentID string
}

type updateKind int

const (
	kindRelevance updateKind = iota
	kindSelection
)

// laneValue 一条通道上的值（按 kind 取用对应字段）
type laneValue struct {
	rel float64
	sel bool
}

// lane 单键单类更新的状态机
type lane struct {
	key  Key
	kind updateKind

	confirmed laneValue
	pending   *laneValue // 乐观值，尚未送出
	inFlight  *laneValue // 正在持久化的值
	timer     *time.Timer
}

// DefaultDebounceWindow 相关性连发折叠的默认窗口
const DefaultDebounceWindow = 150 * time.Millisecond

// DefaultPersistTimeout 单笔持久化的默认超时
const DefaultPersistTimeout = 5 * time.Second

// Coordinator 同步协调器
type Coordinator struct {
	persistRel PersistRelevanceFunc
	persistSel PersistSelectionFunc
	loadRel    LoadRelevanceFunc
	loadSel    LoadSelectionFunc

	window         time.Duration
	persistTimeout time.Duration

	mu     sync.Mutex
	lanes  map[Key]map[updateKind]*lane
	closed bool

	events chan Event
	wg     sync.WaitGroup
}

// Option 配置 Coordinator。
type Option func(*Coordinator)

// WithDebounceWindow 设置相关性连发折叠窗口。
// 窗口是配置项，不按调用方硬编码。
func WithDebounceWindow(window time.Duration) Option {
	return func(c *Coordinator) {
		c.window = window
	}
}

// WithPersistTimeout 设置单笔持久化的超时。
func WithPersistTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.persistTimeout = timeout
	}
}

// WithLoaders 设置确认值的初始加载回调。
func WithLoaders(loadRel LoadRelevanceFunc, loadSel LoadSelectionFunc) Option {
	return func(c *Coordinator) {
		c.loadRel = loadRel
		c.loadSel = loadSel
	}
}

// New 创建同步协调器
func New(persistRel PersistRelevanceFunc, persistSel PersistSelectionFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		persistRel:     persistRel,
		persistSel:     persistSel,
		window:         DefaultDebounceWindow,
		persistTimeout: DefaultPersistTimeout,
		lanes:          make(map[Key]map[updateKind]*lane),
		events:         make(chan Event, 64),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Events 返回事件通道
//
// 失败/回滚事件是推送而非轮询；消费方落后时事件被丢弃
// 而不是阻塞状态机。
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// SetRelevance 应用一次乐观相关性更新，返回立即生效的值
//
// 同键窗口内的连发折叠为最后一个值，只有最后的值被送往
// 下游，但每个中间值都立即出现在乐观读路径上。
func (c *Coordinator) SetRelevance(ctx context.Context, contextID, contentID string, score float64) (float64, error) {
	if score < 0 || score > 1 {
		return 0, errors.ErrScoreOutOfRange
	}

	key := Key{ContextID: contextID, ContentID: contentID}
	ln, err := c.laneFor(ctx, key, kindRelevance)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.ErrContextCanceled
	}

	ln.pending = &laneValue{rel: score}

	// 重置折叠窗口：窗口内的后续更新顶掉这次的发送
	if ln.timer != nil {
		ln.timer.Stop()
	}
	ln.timer = time.AfterFunc(c.window, func() {
		c.flush(ln)
	})

	return score, nil
}

// SetSelection 应用一次乐观选择更新，返回立即生效的值
//
// 选择更新不折叠，立即入队持久化；单键单在途写的约束仍然生效。
func (c *Coordinator) SetSelection(ctx context.Context, contextID, contentID string, selected bool) (bool, error) {
	key := Key{ContextID: contextID, ContentID: contentID}
	ln, err := c.laneFor(ctx, key, kindSelection)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, errors.ErrContextCanceled
	}
	ln.pending = &laneValue{sel: selected}
	c.mu.Unlock()

	c.flush(ln)
	return selected, nil
}

// EffectiveRelevance 返回生效的相关性（挂起值 > 在途值 > 确认值）
func (c *Coordinator) EffectiveRelevance(ctx context.Context, contextID, contentID string) (float64, error) {
	key := Key{ContextID: contextID, ContentID: contentID}

	c.mu.Lock()
	if ln, ok := c.lanes[key][kindRelevance]; ok {
		defer c.mu.Unlock()
		return ln.effective().rel, nil
	}
	c.mu.Unlock()

	if c.loadRel != nil {
		return c.loadRel(ctx, contextID, contentID)
	}
	return model.DefaultRelevanceScore, nil
}

// EffectiveSelection 返回生效的选择状态（挂起值 > 在途值 > 确认值）
func (c *Coordinator) EffectiveSelection(ctx context.Context, contextID, contentID string) (bool, error) {
	key := Key{ContextID: contextID, ContentID: contentID}

	c.mu.Lock()
	if ln, ok := c.lanes[key][kindSelection]; ok {
		defer c.mu.Unlock()
		return ln.effective().sel, nil
	}
	c.mu.Unlock()

	if c.loadSel != nil {
		return c.loadSel(ctx, contextID, contentID)
	}
	return false, nil
}

// Forget 丢弃键的全部状态（条目被摘除后调用）
func (c *Coordinator) Forget(contextID, contentID string) {
	key := Key{ContextID: contextID, ContentID: contentID}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ln := range c.lanes[key] {
		if ln.timer != nil {
			ln.timer.Stop()
		}
	}
	delete(c.lanes, key)
}

// Close 停止协调器并等待在途写结束
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, byKind := range c.lanes {
		for _, ln := range byKind {
			if ln.timer != nil {
				ln.timer.Stop()
			}
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.events)
}

// laneFor 取出（或初始化）状态机
func (c *Coordinator) laneFor(ctx context.Context, key Key, kind updateKind) (*lane, error) {
	c.mu.Lock()
	if byKind, ok := c.lanes[key]; ok {
		if ln, ok := byKind[kind]; ok {
			c.mu.Unlock()
			return ln, nil
		}
	}
	c.mu.Unlock()

	// 首次接触该键：先加载服务端确认值作为回滚基线
	var confirmed laneValue
	switch kind {
	case kindRelevance:
		confirmed.rel = model.DefaultRelevanceScore
		if c.loadRel != nil {
			rel, err := c.loadRel(ctx, key.ContextID, key.ContentID)
			if err != nil {
				return nil, errors.WrapError(err, "load confirmed relevance")
			}
			confirmed.rel = rel
		}
	case kindSelection:
		if c.loadSel != nil {
			sel, err := c.loadSel(ctx, key.ContextID, key.ContentID)
			if err != nil {
				return nil, errors.WrapError(err, "load confirmed selection")
			}
			confirmed.sel = sel
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byKind, ok := c.lanes[key]
	if !ok {
		byKind = make(map[updateKind]*lane)
		c.lanes[key] = byKind
	}
	if ln, ok := byKind[kind]; ok {
		// 并发初始化：保留先到者的状态
		return ln, nil
	}

	ln := &lane{key: key, kind: kind, confirmed: confirmed}
	byKind[kind] = ln
	return ln, nil
}

// flush 把挂起值送往下游
//
// 在途期间不派生第二笔写：挂起值留在通道上，由在途写的
// 完成回调补发。
func (c *Coordinator) flush(ln *lane) {
	c.mu.Lock()
	if c.closed || ln.pending == nil || ln.inFlight != nil {
		c.mu.Unlock()
		return
	}

	value := ln.pending
	ln.pending = nil
	ln.inFlight = value
	c.wg.Add(1)
	c.mu.Unlock()

	go c.persist(ln, *value)
}

// persist 执行一笔持久化并处理确认/回滚
func (c *Coordinator) persist(ln *lane, value laneValue) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	var err error
	switch ln.kind {
	case kindRelevance:
		err = c.persistRel(ctx, ln.key.ContextID, ln.key.ContentID, value.rel)
	case kindSelection:
		err = c.persistSel(ctx, ln.key.ContextID, ln.key.ContentID, value.sel)
	}

	c.mu.Lock()
	ln.inFlight = nil

	if err != nil {
		// 回滚：确认值恢复为生效值，挂起值一并丢弃
		ln.pending = nil
		restored := ln.confirmed
		c.mu.Unlock()
		c.emit(failureEvent(ln, restored, err))
		return
	}

	ln.confirmed = value
	hasFollowUp := ln.pending != nil
	c.mu.Unlock()

	c.emit(confirmEvent(ln, value))

	// 在途期间被取代：补发最新值
	if hasFollowUp {
		c.flush(ln)
	}
}

// emit 非阻塞推送事件；消费方落后时丢弃
func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func confirmEvent(ln *lane, value laneValue) Event {
	e := Event{
		ContextID: ln.key.ContextID,
		ContentID: ln.key.ContentID,
		Relevance: value.rel,
		Selected:  value.sel,
	}
	if ln.kind == kindRelevance {
		e.Type = EventRelevanceConfirmed
	} else {
		e.Type = EventSelectionConfirmed
	}
	return e
}

func failureEvent(ln *lane, restored laneValue, err error) Event {
	e := Event{
		ContextID: ln.key.ContextID,
		ContentID: ln.key.ContentID,
		Relevance: restored.rel,
		Selected:  restored.sel,
		Err:       err,
	}
	if ln.kind == kindRelevance {
		e.Type = EventRelevanceUpdateFailed
	} else {
		e.Type = EventSelectionUpdateFailed
	}
	return e
}

// effective 生效值：挂起值 > 在途值 > 确认值
func (ln *lane) effective() laneValue {
	if ln.pending != nil {
		return *ln.pending
	}
	if ln.inFlight != nil {
		return *ln.inFlight
	}
	return ln.confirmed
}
