package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/aulaviva/tutoria/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var feedbackFiles = map[model.Category]string{
	model.CategoryCorrect:          "templates/feedback_correct.txt",
	model.CategoryPartiallyCorrect: "templates/feedback_partial.txt",
	model.CategoryIncorrect:        "templates/feedback_incorrect.txt",
}

var (
	loadOnce          sync.Once
	loadErr           error
	classifyTemplate  *template.Template
	chatTemplate      *template.Template
	feedbackTemplates map[model.Category]*template.Template
)

// AnswerData holds template data for classification and feedback prompts.
type AnswerData struct {
	QuestionText   string
	ExpectedAnswer string
	Answer         string
}

// ChatData holds template data for the open-chat system prompt.
type ChatData struct {
	Instructions string
	Style        string
	Institution  string
	Context      string
}

func load() error {
	loadOnce.Do(func() {
		parse := func(name, path string) *template.Template {
			if loadErr != nil {
				return nil
			}
			content, err := templateFS.ReadFile(path)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + path + ": " + err.Error())
				return nil
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + path + ": " + err.Error())
				return nil
			}
			return tmpl
		}

		classifyTemplate = parse("classify", "templates/classify.txt")
		chatTemplate = parse("chat", "templates/chat_system.txt")
		feedbackTemplates = make(map[model.Category]*template.Template)
		for cat, path := range feedbackFiles {
			feedbackTemplates[cat] = parse(string(cat), path)
		}
	})
	return loadErr
}

// BuildClassifyPrompt builds the answer-classification prompt.
func BuildClassifyPrompt(question model.Question, answer string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	data := AnswerData{
		QuestionText:   question.Text,
		ExpectedAnswer: question.CorrectAnswer,
		Answer:         SanitizeAnswer(answer),
	}
	var buf bytes.Buffer
	if err := classifyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildFeedbackPrompt builds the tutoring feedback prompt for a category.
// The correct-answer template never includes the expected answer; the other
// two use it to steer the hint.
func BuildFeedbackPrompt(category model.Category, question model.Question, answer string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := feedbackTemplates[category]
	if !ok {
		return "", fmt.Errorf("no feedback template for category %q", category)
	}
	data := AnswerData{
		QuestionText:   question.Text,
		ExpectedAnswer: question.CorrectAnswer,
		Answer:         SanitizeAnswer(answer),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildChatSystemPrompt builds the open-chat system prompt from the
// assistant's configuration and the retrieved context (may be empty).
func BuildChatSystemPrompt(assistant model.Assistant, retrievedContext string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	data := ChatData{
		Instructions: assistant.Instructions,
		Style:        assistant.Style,
		Institution:  assistant.Institution,
		Context:      strings.TrimSpace(retrievedContext),
	}
	var buf bytes.Buffer
	if err := chatTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips prompt-injection tags from student input and caps its
// length before it is embedded in a prompt.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[Sin respuesta]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Respuesta truncada por longitud]"
	}

	return answer
}
