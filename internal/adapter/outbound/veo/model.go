package veo

// predictRequest is the body of a predictLongRunning call.
type predictRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

type instance struct {
	Prompt string      `json:"prompt"`
	Image  *inputImage `json:"image,omitempty"`
}

type inputImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type parameters struct {
	SampleCount int    `json:"sampleCount"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// operation is a long-running operation resource.
type operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done,omitempty"`
	Metadata *operationMetadata `json:"metadata,omitempty"`
	Error    *apiStatus         `json:"error,omitempty"`
	Response *videoJobResponse  `json:"response,omitempty"`
}

type operationMetadata struct {
	State string `json:"state,omitempty"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type videoJobResponse struct {
	GenerateVideoResponse generateVideoResponse `json:"generateVideoResponse"`
}

type generateVideoResponse struct {
	GeneratedSamples []generatedSample `json:"generatedSamples,omitempty"`
}

type generatedSample struct {
	Video videoRef `json:"video"`
}

type videoRef struct {
	URI string `json:"uri,omitempty"`
}

// errorResponse is the body of a failed API call.
type errorResponse struct {
	Error *apiStatus `json:"error,omitempty"`
}
