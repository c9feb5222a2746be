// Package gateway 是模型调用的门面：配额、缓存、策略链与传输在这里组合。
//
// 一次 Generate 的流程：
//
//  1. useCache 时按规范化键查缓存，命中直接返回，不消耗配额；
//  2. 未命中时检查配额，超限返回 *QuotaExceededError，不发起网络请求；
//  3. 在 "model-call" 策略链（舱壁 → 超时 → 重试 → 熔断）下调用 Transport；
//  4. 成功后记录配额、写缓存并返回；
//  5. 重试用尽、超时、舱壁拒绝或熔断打开时返回 *ServiceUnavailableError，从不返回过期或伪造的数据。
//
// 图片调用走独立的模型、熔断键和策略链，不经过配额。
//
//	gw, err := gateway.New(&gateway.Config{}, gateway.Deps{
//		Settings: gateway.FromLoader(loader, "model"),
//		Breaker:  brk,
//		Cache:    orch,
//		Limiter:  limiter,
//	}, gateway.WithLogger(logger), gateway.WithMeter(meter))
//
//	text, err := gw.Generate(ctx, "summarize ...", "", gateway.SamplingParams{Temperature: 0.2}, true,
//		gateway.WithTags("inventory"))
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/cache"
	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
	"github.com/ceyewan/modelgate/policy"
	"github.com/ceyewan/modelgate/ratelimit"
	"github.com/ceyewan/modelgate/store"
	"github.com/ceyewan/modelgate/trace"
	"github.com/ceyewan/modelgate/xerrors"
)

// 策略链名称
const (
	ChainModelCall  = "model-call"
	ChainVisionCall = "vision-call"
)

const tracerName = "github.com/ceyewan/modelgate/gateway"

// Gateway 模型调用门面，并发安全
type Gateway struct {
	cfg       Config
	settings  *lazySettings
	breaker   breaker.Breaker
	cache     *cache.Orchestrator
	limiter   *ratelimit.Limiter
	transport Transport

	chain       *policy.Chain
	visionChain *policy.Chain

	logger      clog.Logger
	tracer      oteltrace.Tracer
	requests    metrics.Counter
	duration    metrics.Histogram
	quotaDenied metrics.Counter
}

// call 一次调用的参数
type call struct {
	op     string
	req    *Request
	format string
	cache  bool
	quota  bool
	chain  *policy.Chain
	opts   *callOptions
}

// New 创建网关。Settings 可以在构造时尚不可用，首次调用时再解析。
func New(cfg *Config, deps Deps, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if deps.Settings == nil {
		return nil, &ConfigurationError{Reason: "settings provider is nil"}
	}
	if deps.Breaker == nil {
		return nil, &ConfigurationError{Reason: "circuit breaker is nil"}
	}
	if deps.Cache == nil {
		return nil, &ConfigurationError{Reason: "cache orchestrator is nil"}
	}
	if deps.Limiter == nil {
		return nil, &ConfigurationError{Reason: "rate limiter is nil"}
	}
	c := *cfg
	c.setDefaults()

	o := applyOptions(opts...)
	logger := o.logger.WithNamespace("gateway")

	chainOpts := []policy.Option{policy.WithLogger(o.logger), policy.WithMeter(o.meter)}
	chain, err := policy.NewChain(ChainModelCall,
		policy.ModelCall(deps.Breaker, c.Dependency, c.ModelCall, nil), chainOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "build model-call chain")
	}
	visionChain, err := policy.NewChain(ChainVisionCall,
		policy.ModelCall(deps.Breaker, c.visionDependency(), c.Vision, nil), chainOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "build vision-call chain")
	}

	transport := deps.Transport
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}

	g := &Gateway{
		cfg:         c,
		settings:    newLazySettings(deps.Settings, logger),
		breaker:     deps.Breaker,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		transport:   transport,
		chain:       chain,
		visionChain: visionChain,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		requests:    metrics.MustCounter(o.meter, MetricRequestsTotal, "Gateway requests by operation and result"),
		duration: metrics.MustHistogram(o.meter, MetricRequestDuration, "Gateway request duration",
			metrics.WithUnit("s")),
		quotaDenied: metrics.MustCounter(o.meter, MetricQuotaDenied, "Requests denied by quota"),
	}

	logger.Info("gateway created",
		clog.String("dependency", c.Dependency),
		clog.Duration("cache_ttl", c.CacheTTL),
		clog.Int("max_concurrent", c.ModelCall.MaxConcurrent),
		clog.Int("vision_max_concurrent", c.Vision.MaxConcurrent))
	return g, nil
}

// Generate 生成文本
func (g *Gateway) Generate(ctx context.Context, prompt, system string, params SamplingParams, useCache bool, opts ...CallOption) (string, error) {
	return g.run(ctx, &call{
		op:     OpGenerate,
		req:    &Request{Prompt: prompt, System: system, Params: params},
		format: formatText,
		cache:  useCache,
		quota:  true,
		chain:  g.chain,
		opts:   applyCallOptions(opts),
	})
}

// GenerateStructured 生成 JSON 并解析为 any。
//
// 解析顺序：直接解析，去掉 Markdown 代码块后解析，提取第一个括号配平的对象或数组。
// 修复全部在本地完成，不会触发网络重试。
// 默认情况下三步都失败返回 *MalformedResponseError，结果不写缓存；
// 只有传入 WithRawFallback() 时才以 string 返回原始文本（此时原文照常缓存）。
func (g *Gateway) GenerateStructured(ctx context.Context, prompt, system string, params SamplingParams, useCache bool, opts ...CallOption) (any, error) {
	c := g.structuredCall(prompt, system, params, useCache, opts)
	text, err := g.run(ctx, c)
	if err != nil {
		return nil, err
	}
	raw, err := repairJSON(text)
	if err != nil {
		if c.opts.rawFallback {
			return text, nil
		}
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &MalformedResponseError{Text: truncate(text, maxMalformedText), Cause: err}
	}
	return v, nil
}

// DecodeStructured 与 GenerateStructured 相同，但解码到 dest
func (g *Gateway) DecodeStructured(ctx context.Context, dest any, prompt, system string, params SamplingParams, useCache bool, opts ...CallOption) error {
	c := g.structuredCall(prompt, system, params, useCache, opts)
	c.opts.rawFallback = false
	text, err := g.run(ctx, c)
	if err != nil {
		return err
	}
	raw, err := repairJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &MalformedResponseError{Text: truncate(text, maxMalformedText), Cause: err}
	}
	return nil
}

func (g *Gateway) structuredCall(prompt, system string, params SamplingParams, useCache bool, opts []CallOption) *call {
	return &call{
		op:     OpStructured,
		req:    &Request{Prompt: prompt, System: system, Params: params, JSON: true},
		format: formatJSON,
		cache:  useCache,
		quota:  true,
		chain:  g.chain,
		opts:   applyCallOptions(opts),
	}
}

// GenerateWithImage 图片加文本的调用：独立模型、独立熔断键、更长超时，不计配额
func (g *Gateway) GenerateWithImage(ctx context.Context, prompt string, image Image, params SamplingParams, useCache bool, opts ...CallOption) (string, error) {
	if len(image.Data) == 0 {
		return "", xerrors.Wrap(xerrors.ErrInvalidInput, "gateway: image is empty")
	}
	if image.MIMEType == "" {
		image.MIMEType = "image/jpeg"
	}
	return g.run(ctx, &call{
		op:     OpVision,
		req:    &Request{Prompt: prompt, Params: params, Image: &image},
		format: formatText,
		cache:  useCache,
		quota:  false,
		chain:  g.visionChain,
		opts:   applyCallOptions(opts),
	})
}

// InvalidateTag 失效带有 tag 的所有缓存条目，返回删除的副本数
func (g *Gateway) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return g.cache.InvalidateTag(ctx, tag)
}

// BreakerStatus 返回依赖的熔断器快照
func (g *Gateway) BreakerStatus(name string) (breaker.Status, error) {
	return g.breaker.Status(name)
}

// ResetBreaker 手动关闭熔断器
func (g *Gateway) ResetBreaker(name string) error {
	if err := g.breaker.Reset(name); err != nil {
		return err
	}
	g.logger.Info("circuit breaker reset", clog.String("dependency", name))
	return nil
}

// Breakers 已知的熔断键
func (g *Gateway) Breakers() []string {
	return g.breaker.Keys()
}

// SettingsState 配置解析状态与最近一次失败原因
func (g *Gateway) SettingsState() (SettingsState, error) {
	return g.settings.snapshot()
}

// Usage 身份的配额用量
func (g *Gateway) Usage(ctx context.Context, identity string) (ratelimit.Usage, error) {
	return g.limiter.Usage(ctx, identity)
}

// Chains 返回两条策略链，供宿主查看舱壁状态
func (g *Gateway) Chains() []*policy.Chain {
	return []*policy.Chain{g.chain, g.visionChain}
}

func (g *Gateway) run(ctx context.Context, c *call) (text string, err error) {
	if clog.RequestID(ctx) == "" {
		ctx = clog.WithRequestID(ctx, uuid.NewString())
	}
	ctx, span := trace.StartCallSpan(ctx, g.tracer, trace.CallMeta{Op: c.op, Dependency: g.dependencyOf(c), UseCache: c.cache})
	start := time.Now()
	result := ResultOK
	defer func() {
		if err != nil {
			result = resultOf(err)
		}
		trace.EndCallSpan(span, result, err)
		g.requests.Inc(ctx, metrics.L(LabelOp, c.op), metrics.L(LabelResult, result))
		g.duration.Record(ctx, time.Since(start).Seconds(), metrics.L(LabelOp, c.op))
	}()

	if normalize(c.req.Prompt) == "" {
		return "", xerrors.Wrap(xerrors.ErrInvalidInput, "gateway: prompt is empty")
	}

	settings, err := g.settings.get(ctx)
	if err != nil {
		return "", err
	}
	c.req.Model = settings.Model
	if c.req.Image != nil {
		c.req.Model = settings.VisionModel
	}
	if c.opts.model != "" {
		c.req.Model = c.opts.model
	}

	key := canonicalKey(c.req, c.format)
	if c.cache {
		if v, ok := g.cache.Get(ctx, key); ok {
			result = ResultCacheHit
			g.logger.DebugContext(ctx, "cache hit", clog.String("op", c.op), clog.String("key", key))
			return string(v), nil
		}
	}

	identity := store.SessionFrom(ctx)
	if c.quota {
		if err := g.checkQuota(ctx, identity); err != nil {
			return "", err
		}
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		text, err := policy.Do(ctx, c.chain, func(ctx context.Context) (string, error) {
			return g.transport.Generate(ctx, c.req, settings)
		})
		if err != nil {
			return nil, err
		}
		if c.quota {
			if err := g.limiter.Record(ctx, identity); err != nil {
				g.logger.WarnContext(ctx, "quota record failed",
					clog.String("identity", identity), clog.Error(err))
			}
		}
		if c.format == formatJSON && !c.opts.rawFallback {
			if _, err := repairJSON(text); err != nil {
				return nil, err
			}
		}
		return []byte(text), nil
	}

	var out []byte
	if c.cache {
		ttl := c.opts.ttl
		if ttl <= 0 {
			ttl = g.cfg.CacheTTL
		}
		out, err = g.cache.GetOrCompute(ctx, key, fetch, ttl, c.opts.tags...)
	} else {
		out, err = fetch(ctx)
	}
	if err != nil {
		err = g.classify(ctx, c, err)
		g.logger.WarnContext(ctx, "model call failed",
			clog.String("op", c.op),
			clog.String("model", c.req.Model),
			clog.ErrorWithCode(err, ""))
		return "", err
	}

	g.logger.DebugContext(ctx, "model call succeeded",
		clog.String("op", c.op),
		clog.String("model", c.req.Model),
		clog.Duration("elapsed", time.Since(start)))
	return string(out), nil
}

// checkQuota 存储故障时放行并记录告警
func (g *Gateway) checkQuota(ctx context.Context, identity string) error {
	d, err := g.limiter.Check(ctx, identity)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrInvalidInput) {
			return err
		}
		g.logger.WarnContext(ctx, "quota check failed, allowing call",
			clog.String("identity", identity), clog.Error(err))
		return nil
	}
	if d.Allowed {
		return nil
	}
	g.quotaDenied.Inc(ctx, metrics.L("window", string(d.Window)))
	g.logger.InfoContext(ctx, "quota exceeded",
		clog.String("identity", identity),
		clog.String("window", string(d.Window)),
		clog.Duration("retry_after", d.RetryAfter))
	return &QuotaExceededError{
		Identity:   identity,
		Window:     d.Window,
		Reason:     d.Reason,
		RetryAfter: d.RetryAfter,
	}
}

// classify 把策略链的错误转换为对外的错误类别。调用方错误与配置错误原样返回。
func (g *Gateway) classify(ctx context.Context, c *call, err error) error {
	var (
		cfgErr    *ConfigurationError
		malformed *MalformedResponseError
		open      *breaker.OpenError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &malformed):
		return err
	case xerrors.IsCallerError(err):
		return err
	case ctx.Err() != nil:
		// 调用方自己的截止时间
		return err
	}

	unavailable := &ServiceUnavailableError{Dependency: g.dependencyOf(c), Cause: err}
	switch {
	case errors.As(err, &open):
		unavailable.Reason = "circuit open"
		unavailable.RetryAfter = open.RetryAfter
	case errors.Is(err, breaker.ErrOpenState):
		unavailable.Reason = "circuit open"
	case errors.Is(err, policy.ErrBulkheadFull):
		unavailable.Reason = "bulkhead full"
	case errors.Is(err, policy.ErrRetriesExhausted):
		unavailable.Reason = "retries exhausted"
	case policy.IsTimeout(err):
		unavailable.Reason = "timeout"
	default:
		unavailable.Reason = "dependency failure"
	}
	return unavailable
}

func (g *Gateway) dependencyOf(c *call) string {
	if c.chain == g.visionChain {
		return g.cfg.visionDependency()
	}
	return g.cfg.Dependency
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ResultQuota
	case errors.Is(err, ErrConfiguration):
		return ResultConfig
	case errors.Is(err, ErrMalformedResponse):
		return ResultMalformed
	case errors.Is(err, ErrServiceUnavailable):
		return ResultUnavailable
	default:
		return ResultInvalid
	}
}
