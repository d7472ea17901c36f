package quality

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

func chartGuide(size int) string {
	var b strings.Builder
	b.WriteString("# Python Sandbox\n\n使用 matplotlib 绘制折线图、饼图等图表。\n\n")
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		fmt.Fprintf(&b, "## 折线图示例 %d\n\n第 %d 个示例说明如何准备数据并设置坐标轴标签与标题。\n\n", i+1, i+1)
		fmt.Fprintf(&b, "```python\nimport matplotlib.pyplot as plt\n# 折线图 %d\nplt.plot([1, 2, 3], [%d, 5, 7])\nplt.show()\n```\n\n", i+1, i)
	}
	return b.String()
}

func newCompressor(t *testing.T) *compression.Service {
	t.Helper()
	svc, err := compression.NewService(nil)
	require.NoError(t, err)
	return svc
}

func TestScore_ChartRubric(t *testing.T) {
	m := NewMonitor(DefaultConfig(), newCompressor(t))
	good := &compression.Result{
		Content:     "# Chart\n\n```python\nimport matplotlib.pyplot as plt\nplt.plot([1, 2])\nplt.show()\n```\n" + strings.Repeat("折线图说明。", 100),
		ContentType: compression.ChartContent,
		Decision:    compression.Decision{ShouldCompress: true, TargetSize: 1000},
	}
	score, checks := m.Score(good, "画折线图")
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Len(t, checks, 4)

	unchanged := &compression.Result{Content: "short", ContentType: compression.ChartContent}
	score, _ = m.Score(unchanged, "")
	assert.Equal(t, 1.0, score)
}

func TestEvaluate_MissingCodeTriggersFallback(t *testing.T) {
	svc := newCompressor(t)
	logger := logging.NewTestLogger()
	m := NewMonitor(DefaultConfig(), svc, WithLogger(logger.Logger))

	doc := chartGuide(20000)
	req := compression.Request{ToolName: "python_sandbox", Content: doc, Query: "帮我画一个折线图", Budget: 4000}
	res := svc.Compress(context.Background(), req)
	require.Equal(t, compression.ChartContent, res.ContentType)

	// Strip every code block from an otherwise valid result.
	broken := *res
	broken.Content = "这是一段没有任何代码的说明文字。"
	broken.CompressedSize = textutil.RuneLen(broken.Content)

	eval := m.Evaluate(context.Background(), req, &broken)
	assert.Less(t, eval.InitialScore, 0.5)
	assert.True(t, eval.FellBack)
	assert.Equal(t, compression.StrategyMinimal, eval.Result.Strategy)
	assert.Greater(t, eval.Result.CompressedSize, broken.CompressedSize)
	assert.NotEmpty(t, compression.ExtractCodeBlocks(eval.Result.Content))
	assert.LessOrEqual(t, eval.Result.CompressedSize, int(float64(res.Decision.TargetSize)*1.5))
	assert.Greater(t, eval.Score, eval.InitialScore)
	logger.AssertLogged(t, zapcore.WarnLevel, "low quality compression")

	rep := m.Report()
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 1, rep.ByTool["python_sandbox"].Fallbacks)
}

func TestEvaluate_GoodResultKept(t *testing.T) {
	svc := newCompressor(t)
	m := NewMonitor(DefaultConfig(), svc)

	req := compression.Request{ToolName: "python_sandbox", Content: chartGuide(20000), Query: "帮我画一个折线图", Budget: 4000}
	res := svc.Compress(context.Background(), req)
	eval := m.Evaluate(context.Background(), req, res)

	assert.False(t, eval.FellBack)
	assert.Same(t, res, eval.Result)
	assert.GreaterOrEqual(t, eval.Score, 0.5)
}

func TestEvaluate_NoFallbackWhenMostlyKept(t *testing.T) {
	m := NewMonitor(DefaultConfig(), newCompressor(t))
	res := &compression.Result{
		Content:        strings.Repeat("无代码文字。", 200),
		ContentType:    compression.ChartContent,
		Decision:       compression.Decision{ShouldCompress: true, TargetSize: 1000},
		OriginalSize:   1300,
		CompressedSize: 1200,
	}
	eval := m.Evaluate(context.Background(), compression.Request{Query: "饼图"}, res)
	assert.Less(t, eval.Score, 0.5)
	assert.False(t, eval.FellBack, "kept more than 70% of the original")
}

type emptyRetryCompressor struct{ *compression.Service }

func (c emptyRetryCompressor) CompressWith(ctx context.Context, req compression.Request, _ compression.Strategy, target int) *compression.Result {
	res := c.Service.CompressWith(ctx, req, compression.StrategyMinimal, target)
	worse := *res
	worse.Content = ""
	worse.CompressedSize = 0
	return &worse
}

func TestEvaluate_WorseRetryDiscarded(t *testing.T) {
	svc := newCompressor(t)
	logger := logging.NewTestLogger()
	m := NewMonitor(DefaultConfig(), emptyRetryCompressor{svc}, WithLogger(logger.Logger))

	req := compression.Request{ToolName: "python_sandbox", Content: chartGuide(20000), Query: "line chart", Budget: 4000}
	res := svc.Compress(context.Background(), req)
	broken := *res
	broken.Content = "Line chart notes without any code."
	broken.CompressedSize = textutil.RuneLen(broken.Content)

	eval := m.Evaluate(context.Background(), req, &broken)
	assert.False(t, eval.FellBack)
	assert.Same(t, &broken, eval.Result)
	assert.Equal(t, eval.InitialScore, eval.Score)
	assert.Greater(t, eval.Score, 0.0)
	logger.AssertLogged(t, zapcore.WarnLevel, "retry scored lower")
	assert.Zero(t, m.Report().ByTool["python_sandbox"].Fallbacks)
}

type panickyCompressor struct{ *compression.Service }

func (panickyCompressor) TypeConfig(compression.ContentType) compression.TypeConfig {
	panic("broken config")
}

func TestScore_PanicIsNeutral(t *testing.T) {
	logger := logging.NewTestLogger()
	m := NewMonitor(DefaultConfig(), panickyCompressor{newCompressor(t)}, WithLogger(logger.Logger))
	res := &compression.Result{
		ToolName:    "x",
		ContentType: compression.FullSkill,
		Decision:    compression.Decision{ShouldCompress: true, TargetSize: 100},
	}
	score, checks := m.Score(res, "q")
	assert.Equal(t, NeutralScore, score)
	assert.Nil(t, checks)
	logger.AssertLogged(t, zapcore.ErrorLevel, "quality scoring failed")
}

func TestRubrics_WeightsSumToOne(t *testing.T) {
	for _, ct := range compression.ContentTypes {
		var sum float64
		for _, c := range rubricFor(ct) {
			sum += c.weight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, string(ct))
	}
}

func TestLengthBand(t *testing.T) {
	in := checkInput{target: 1000, original: 5000}
	in.content = strings.Repeat("a", 400)
	assert.False(t, inLengthBand.pass(in))
	in.content = strings.Repeat("a", 500)
	assert.True(t, inLengthBand.pass(in))
	in.content = strings.Repeat("a", 1001)
	assert.False(t, inLengthBand.pass(in))
}

func TestRingLogAndReport(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMonitor(Config{LogSize: 3}, nil, WithClock(func() time.Time { return clock }))

	for i := 0; i < 5; i++ {
		tool := "a"
		if i%2 == 1 {
			tool = "b"
		}
		m.Evaluate(context.Background(), compression.Request{}, &compression.Result{
			ToolName:        tool,
			Content:         fmt.Sprintf("entry %d", i),
			ContentType:     compression.GenericContent,
			CompressionRate: 0.5,
		})
	}

	recent := m.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "a", recent[0].ToolName)
	assert.Equal(t, "b", recent[1].ToolName)
	assert.Equal(t, "a", recent[2].ToolName)
	assert.Equal(t, clock, recent[0].RecordedAt)

	rep := m.Report()
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.ByTool["a"].Count)
	assert.Equal(t, 1, rep.ByTool["b"].Count)
	assert.InDelta(t, 0.5, rep.ByType[compression.GenericContent].AvgCompressionRate, 1e-9)
	assert.InDelta(t, 1.0, rep.Overall.AvgQuality, 1e-9)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor(Config{LogSize: 10}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Evaluate(context.Background(), compression.Request{}, &compression.Result{ToolName: fmt.Sprint(i % 3)})
			_ = m.Report()
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Recent(), 10)
}
