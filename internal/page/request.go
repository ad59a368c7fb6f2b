package page

// SigningRequest 是从宿主页面提取的签名请求快照，空字符串表示页面上不存在该字段。
type SigningRequest struct {
	PSBT        string `json:"psbt,omitempty"`
	RequestType string `json:"request_type,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// IsEmpty 判断快照是否未找到任何字段。
func (r SigningRequest) IsEmpty() bool {
	return r.PSBT == "" && r.RequestType == "" && r.Amount == ""
}

// Selectors 描述宿主页面约定的稳定元素 id。
type Selectors struct {
	PSBTInput   string `yaml:"psbt_input" env:"PSBT_INPUT"`
	RequestType string `yaml:"request_type" env:"REQUEST_TYPE"`
	Amount      string `yaml:"amount" env:"AMOUNT"`
	PSBTOutput  string `yaml:"psbt_output" env:"PSBT_OUTPUT"`
	Approve     string `yaml:"approve" env:"APPROVE"`
}

// DefaultSelectors 返回宿主页面的默认集成点。
func DefaultSelectors() Selectors {
	return Selectors{
		PSBTInput:   "psbt-to-sign",
		RequestType: "request-type",
		Amount:      "channel-amount",
		PSBTOutput:  "psbt-to-paste",
		Approve:     "approve-button",
	}
}

func (s Selectors) withDefaults() Selectors {
	def := DefaultSelectors()
	if s.PSBTInput == "" {
		s.PSBTInput = def.PSBTInput
	}
	if s.RequestType == "" {
		s.RequestType = def.RequestType
	}
	if s.Amount == "" {
		s.Amount = def.Amount
	}
	if s.PSBTOutput == "" {
		s.PSBTOutput = def.PSBTOutput
	}
	if s.Approve == "" {
		s.Approve = def.Approve
	}
	return s
}
