package compression

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

// chartDocument builds a plotting guide of at least size characters.
func chartDocument(size int) string {
	var b strings.Builder
	b.WriteString("# Python Sandbox 图表绘制指南\n\n")
	b.WriteString("本工具在沙箱中运行 Python 代码，可以使用 matplotlib 绘制折线图、饼图、柱状图等各类图表。\n\n")
	kinds := []struct{ name, call string }{
		{"折线图", "plt.plot(x, y, marker=\"o\")"},
		{"饼图", "plt.pie(y, labels=x)"},
		{"柱状图", "plt.bar(x, y)"},
		{"散点图", "plt.scatter(x, y)"},
	}
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		k := kinds[i%len(kinds)]
		fmt.Fprintf(&b, "## %s示例 %d\n\n", k.name, i+1)
		fmt.Fprintf(&b, "绘制%s时请先准备数据，然后设置标题与坐标轴标签，确保中文字体可以正常显示。第 %d 个示例展示了常见的数据格式与样式设置方法。\n\n", k.name, i+1)
		fmt.Fprintf(&b, "```python\nimport matplotlib.pyplot as plt\n\n# %s %d\nx = [1, 2, 3, 4]\ny = [10, 20, 15, 30]\n%s\nplt.title(\"example %d\")\nplt.show()\n```\n\n", k.name, i+1, k.call, i+1)
	}
	return b.String()
}

// fullSkillDocument builds a canonical skill guide of at least size characters.
func fullSkillDocument(size int) string {
	var b strings.Builder
	b.WriteString("# Chess Analysis\n\n")
	b.WriteString("- 名称: chess_analysis\n- 版本: 2.1\n- 类别: game\n\n")
	b.WriteString("用于分析国际象棋局面并给出推荐走法的工具。\n\n")
	b.WriteString("## 调用结构\n\n```json\n{\"name\": \"chess_analysis\", \"parameters\": {\"fen\": \"...\"}}\n```\n\n")
	b.WriteString("## 参数\n\n- fen: 当前局面的 FEN 字符串\n- depth: 搜索深度，默认 12\n\n")
	b.WriteString("## 输出规范\n\n返回最佳走法与评估分数。\n\n")
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		fmt.Fprintf(&b, "## 背景资料 %d\n\n", i+1)
		for j := 0; j < 8; j++ {
			fmt.Fprintf(&b, "第%d节第%d句：国际象棋的开局理论经过数百年的发展，形成了丰富的体系。", i+1, j+1)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// genericDocument builds prose with no code of at least size characters.
func genericDocument(size int) string {
	var b strings.Builder
	b.WriteString("# Notes\n\n")
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		fmt.Fprintf(&b, "Paragraph %d describes general background information that has no code in it at all. ", i+1)
		b.WriteString("It keeps going for a while so the document grows past its threshold.\n\n")
	}
	return b.String()
}

// mixedDocument builds prose interleaved with JSON calling examples.
func mixedDocument(size int) string {
	var b strings.Builder
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		fmt.Fprintf(&b, "Step %d explains how the api accepts a request and what the caller should send next.\n\n", i+1)
		fmt.Fprintf(&b, "```json\n{\"name\": \"step_%d\", \"parameters\": {\"limit\": %d}}\n```\n\n", i+1, i+1)
	}
	return b.String()
}

// codeHeavyDocument builds a document of at least size characters whose code
// blocks are each larger than most compression targets. shape picks the
// surrounding layout: chart, full, mixed or generic.
func codeHeavyDocument(r *rand.Rand, shape string, size int) string {
	var b strings.Builder
	switch shape {
	case "chart":
		b.WriteString("# Plot Gallery\n\nRender charts with matplotlib in the python sandbox.\n\n")
	case "full":
		b.WriteString("# Chess Analysis\n\n- 名称: chess_analysis\n\n")
		b.WriteString("## 调用结构\n\n```json\n{\"name\": \"chess_analysis\"}\n```\n\n")
		b.WriteString("## 参数\n\n- fen: 当前局面\n\n## 输出规范\n\n返回最佳走法。\n\n")
	}
	for i := 0; textutil.RuneLen(b.String()) < size; i++ {
		fmt.Fprintf(&b, "## Section %d\n\n", i+1)
		for j := 0; j < 1+r.Intn(3); j++ {
			fmt.Fprintf(&b, "Paragraph %d.%d explains the api request and how the caller reads the chart output. ", i+1, j+1)
			b.WriteString(strings.Repeat("More detail follows here. ", 2+r.Intn(6)))
			b.WriteString("\n\n")
		}
		if shape == "generic" && r.Intn(3) > 0 {
			continue
		}
		lines := 60 + r.Intn(160)
		switch shape {
		case "chart":
			b.WriteString("```python\nimport matplotlib.pyplot as plt\n")
			for k := 0; k < lines; k++ {
				fmt.Fprintf(&b, "plt.plot([%d, %d], [%d, %d])\n", k, k+1, r.Intn(100), r.Intn(100))
			}
			b.WriteString("plt.show()\n```\n\n")
		case "generic":
			b.WriteString("```bash\n")
			for k := 0; k < lines; k++ {
				fmt.Fprintf(&b, "echo step-%d-%d\n", i, k)
			}
			b.WriteString("```\n\n")
		default:
			b.WriteString("```json\n{\n")
			for k := 0; k < lines; k++ {
				fmt.Fprintf(&b, "  \"field_%d_%d\": %d,\n", i, k, r.Intn(1000))
			}
			b.WriteString("  \"end\": true\n}\n```\n\n")
		}
	}
	return b.String()
}
