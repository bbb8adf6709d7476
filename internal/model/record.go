package model

// Record 抽取出的一条预测记录（型号 × 期间 × 数量）
type Record struct {
	Model    string `json:"model" yaml:"model"`
	Process  string `json:"process,omitempty" yaml:"process,omitempty"` // 工序，仅部分格式提供
	Period   string `json:"period" yaml:"period"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}
