package rag

import (
	"fmt"
	"strings"

	"faultkb/internal/domain/fault"
)

const promptPreamble = "你是一名资深的设备维护专家，你的任务是基于下面提供的历史故障案例，用清晰、专业的语言回答用户的问题。"

// BuildPrompt 按相关度顺序拼接历史案例，问题原样放在末尾
func BuildPrompt(question string, records []*fault.Record) string {
	cases := make([]string, 0, len(records))
	for i, r := range records {
		cases = append(cases, fmt.Sprintf(
			"故障案例 %d (故障单号: %s):\n- 故障现象: %s\n- 故障原因: %s\n- 处理措施: %s",
			i+1,
			orNA(r.TicketNo),
			orNA(r.FaultPhenomenon),
			orNA(r.FaultCause),
			orNA(r.Resolution),
		))
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n--- 历史故障案例参考 ---\n")
	b.WriteString(strings.Join(cases, "\n\n"))
	b.WriteString("\n--- 结束 ---\n\n")
	fmt.Fprintf(&b, "请严格根据以上案例，回答用户提出的问题：'%s'", question)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
