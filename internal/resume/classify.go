package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultClassifyModel = "gemini-2.5-flash"

// maxClassifyChars bounds the résumé text sent to the model.
const maxClassifyChars = 30000

// Profile is the structured part of a résumé. Empty fields were not found.
type Profile struct {
	Name           string `json:"name"`
	Skills         string `json:"skills"`
	Major          string `json:"major"`
	Experiences    string `json:"experiences"`
	Projects       string `json:"projects"`
	Certifications string `json:"certifications"`
}

// Fields returns the profile keyed by the candidate request field names.
func (p Profile) Fields() map[string]string {
	return map[string]string{
		"name":           p.Name,
		"skills":         p.Skills,
		"major":          p.Major,
		"experiences":    p.Experiences,
		"projects":       p.Projects,
		"certifications": p.Certifications,
	}
}

// generator is the slice of the genai client used here. *genai.Models
// satisfies it.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Classifier asks a Gemini model to fill the profile fields of a résumé.
type Classifier struct {
	models generator
	model  string
}

// NewClassifier creates a Gemini-backed classifier. apiKey is required.
func NewClassifier(ctx context.Context, apiKey, model string) (*Classifier, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required to classify resumes")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClassifier(client.Models, model), nil
}

func newClassifier(models generator, model string) *Classifier {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultClassifyModel
	}
	return &Classifier{models: models, model: model}
}

const classifyInstruction = `You extract structured data from a student's CV.
Return JSON with these fields: name, skills (comma separated), major,
experiences (work and internships), projects, certifications.
Copy facts from the CV only. Leave a field empty when the CV does not say.`

var profileSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":           {Type: genai.TypeString, Description: "full name"},
		"skills":         {Type: genai.TypeString, Description: "skills, comma separated"},
		"major":          {Type: genai.TypeString, Description: "major or field of study"},
		"experiences":    {Type: genai.TypeString, Description: "work and internship experience"},
		"projects":       {Type: genai.TypeString, Description: "projects"},
		"certifications": {Type: genai.TypeString, Description: "certifications"},
	},
	PropertyOrdering: []string{"name", "skills", "major", "experiences", "projects", "certifications"},
}

// Classify extracts a Profile from résumé text.
func (c *Classifier) Classify(ctx context.Context, text string) (Profile, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Profile{}, errors.New("resume text is empty")
	}
	if len(text) > maxClassifyChars {
		text = text[:maxClassifyChars]
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(classifyInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0.1)),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    profileSchema,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("classify resume: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Profile{}, errors.New("classify resume: empty response")
	}

	raw := strings.TrimSpace(resp.Text())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, fmt.Errorf("classify resume: decoding %q: %w", truncate(raw, 80), err)
	}
	return p.trimmed(), nil
}

func (p Profile) trimmed() Profile {
	return Profile{
		Name:           strings.TrimSpace(p.Name),
		Skills:         strings.TrimSpace(p.Skills),
		Major:          strings.TrimSpace(p.Major),
		Experiences:    strings.TrimSpace(p.Experiences),
		Projects:       strings.TrimSpace(p.Projects),
		Certifications: strings.TrimSpace(p.Certifications),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
