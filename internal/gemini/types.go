package gemini

// Wire types for the generativelanguage REST API. Only the fields this
// client reads or writes are declared.

// Content is one turn of a generateContent conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a single content fragment: text, inline bytes, or a reference
// to a previously uploaded file.
type Part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *Blob     `json:"inlineData,omitempty"`
	FileData   *FileData `json:"fileData,omitempty"`
}

// Blob carries inline base64 media.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData references an uploaded file by URI.
type FileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// GenerationConfig tunes a generateContent call.
type GenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// Tool enables a built-in tool on the request.
type Tool struct {
	GoogleSearch *GoogleSearch `json:"google_search,omitempty"`
}

// GoogleSearch enables Google Search grounding.
type GoogleSearch struct{}

type generateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []struct {
		Web *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web,omitempty"`
	} `json:"groundingChunks"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FileRef is an opaque handle to an uploaded object, reusable across
// calls without re-uploading bytes.
type FileRef struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType"`
}

type fileResource struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

type listFilesResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type uploadResponse struct {
	File fileResource `json:"file"`
}

// TurnInput is one prior turn handed to Generate as context.
type TurnInput struct {
	Role       string // "user" or "model"
	Text       string
	FileRef    *FileRef // uploaded attachment reference, if any
	InlineData []byte   // inline fallback when no reference exists
	InlineMIME string
}

// GenerateInput assembles one text generation call.
type GenerateInput struct {
	System       string
	Window       []TurnInput
	Prompt       string
	Attachment   *FileRef
	Search       bool
	ResponseJSON bool
	Model        string // overrides the client default when set
}

// GenerateResult is the parsed outcome of a text generation call.
type GenerateResult struct {
	Text      string
	Grounding []string
}

// ImageResult is the outcome of an image generation call.
type ImageResult struct {
	Data     []byte
	MIMEType string
}
