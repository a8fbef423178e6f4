package fuzzer

const (
	defaultIterations    = 256
	defaultWorkers       = 4
	defaultProgressEvery = 50
	defaultOutputDir     = "./campaign_reports"

	// roundtrip 占比：只买不卖很少触发获利检查，往返交易承担主要探索
	roundtripProbability = 0.7

	// 去重失败时的重试上限，超过后接受重复输入
	maxDedupeAttempts = 16
)

// amountScalePercents 围绕基准量的缩放档位（百分比）
var amountScalePercents = []int{1, 2, 5, 10, 20, 50, 100, 200, 500}
