package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/compliance-rag/internal/model"
)

const (
	// OffTopicDisclaimer 非合规问题直接回答时的固定前缀。
	OffTopicDisclaimer = "This question does not seem to be about emissions compliance, but here is an answer:"

	// NoDocumentsAnswer 没有相关文档时的固定回答。
	NoDocumentsAnswer = "I could not find any relevant documents to answer your question."
)

const relevancePrompt = `You are an expert in oil and gas regulations. Your task is to determine if a user's question is related to 'oil and gas emissions' or 'emissions' in general.
Answer with a simple 'yes' or 'no'.

User question: "%s"

Is this question related to emissions? (yes/no):`

const gradePrompt = `You are a grader assessing the relevance of a retrieved document to a user question about emissions.
Give a binary score 'yes' or 'no'. 'yes' means the document is relevant, 'no' means it's not.

Retrieved document:
%s

User question: %s

Grade (yes/no):`

const generatePrompt = `You are an assistant for question-answering tasks for oil and gas emissions compliance.
Use the following pieces of retrieved context to answer the question.
If you don't know the answer, just say that you don't know.
Be concise and provide the answer based only on the provided context.

Question: %s
Context: %s

Answer:`

const directAnswerPrompt = `You are a helpful assistant. A user has asked a question that is not related to the provided regulatory documents.
Provide a direct answer to their question, prefaced with the following disclaimer:
"%s"

User Question: %s

Answer:`

func buildRelevancePrompt(question string) string {
	return fmt.Sprintf(relevancePrompt, question)
}

func buildGradePrompt(question, document string) string {
	return fmt.Sprintf(gradePrompt, document, question)
}

func buildGeneratePrompt(question string, docs []*model.Chunk) string {
	return fmt.Sprintf(generatePrompt, question, joinContext(docs))
}

func buildDirectAnswerPrompt(question string) string {
	return fmt.Sprintf(directAnswerPrompt, OffTopicDisclaimer, question)
}

// joinContext 按顺序拼接文档块，块之间以空行分隔。
func joinContext(docs []*model.Chunk) string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return strings.Join(texts, "\n\n")
}

// saysYes 回复中包含 "yes"（不区分大小写）即视为肯定。
func saysYes(reply string) bool {
	return strings.Contains(strings.ToLower(reply), "yes")
}

// withDisclaimer 保证回答以固定免责声明开头且只出现一次。模型自行输出的声明（可能带引号或前导语）会先被移除。
func withDisclaimer(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, OffTopicDisclaimer); i >= 0 {
		lead := strings.TrimSpace(strings.TrimRight(s[:i], "\"' "))
		rest := strings.TrimSpace(strings.TrimLeft(s[i+len(OffTopicDisclaimer):], "\"'"))
		s = strings.TrimSpace(lead + " " + rest)
	}
	if s == "" {
		return OffTopicDisclaimer
	}
	return OffTopicDisclaimer + " " + s
}
