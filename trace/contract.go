package trace

const (
	// 模型调用的属性键
	AttrCallOp         = "modelgate.op"
	AttrCallResult     = "modelgate.result"
	AttrCallUseCache   = "modelgate.use_cache"
	AttrCallDependency = "modelgate.dependency"
	AttrCallModel      = "modelgate.model"
)

// SpanNameGateway 网关入口 Span 名称
func SpanNameGateway(op string) string {
	if op == "" {
		return "gateway.call"
	}
	return "gateway." + op
}

// SpanNameTransport 单次传输尝试的 Span 名称
func SpanNameTransport(model string) string {
	if model == "" {
		return "model.generate"
	}
	return "model.generate " + model
}
