package googlevision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const (
	minLabelScore     = 0.5
	minLogoScore      = 0.1
	minWebEntityScore = 0.1
	maxResults        = 20
)

var features = []string{
	"LABEL_DETECTION",
	"LANDMARK_DETECTION",
	"LOGO_DETECTION",
	"TEXT_DETECTION",
	"WEB_DETECTION",
}

type Options struct {
	// KeyFilename is the path of a service account key file.
	KeyFilename string
	TagsField   string
	// Endpoint overrides the API endpoint and disables authentication.
	Endpoint string
}

// Vision detects labels, landmarks, logos, text and web matches with the
// Google Cloud Vision API.
type Vision struct {
	svc       *vision.Service
	tagsField string
}

func New(ctx context.Context, opts Options) (*Vision, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.Endpoint != "":
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	case opts.KeyFilename != "":
		// Google returns confusing errors for a missing key file, e.g. when an
		// API key was configured instead of a path.
		if _, err := os.Stat(opts.KeyFilename); err != nil {
			return nil, fmt.Errorf("google key file %q not usable: %w", opts.KeyFilename, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.KeyFilename))
	}

	svc, err := vision.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &Vision{svc: svc, tagsField: opts.TagsField}, nil
}

func (v *Vision) Name() string {
	return "google"
}

func (v *Vision) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}

	req := &vision.AnnotateImageRequest{
		Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
	}
	for _, f := range features {
		req.Features = append(req.Features, &vision.Feature{Type: f, MaxResults: maxResults})
	}

	batch, err := v.svc.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: google vision failed for %s: %w", providers.ErrProviderFailure, file, err)
	}
	if len(batch.Responses) != 1 {
		return nil, fmt.Errorf("%w: google vision returned %d responses", providers.ErrProviderFailure, len(batch.Responses))
	}

	res := batch.Responses[0]
	if res.Error != nil && res.Error.Code != 0 {
		return nil, fmt.Errorf("%w: google vision error %d: %s", providers.ErrProviderFailure, res.Error.Code, res.Error.Message)
	}
	return toResponse(res, v.tagsField), nil
}

func toResponse(res *vision.AnnotateImageResponse, tagsField string) *providers.Response {
	resp := providers.NewResponse()
	addLabels(res, resp, tagsField)
	addLandmarks(res, resp)
	addLogos(res, resp)
	addTexts(res, resp)
	addWebDetection(res, resp)
	return resp
}

func addLabels(res *vision.AnnotateImageResponse, resp *providers.Response, tagsField string) {
	for _, label := range res.LabelAnnotations {
		if label.Score >= minLabelScore {
			resp.Tags = append(resp.Tags, strings.ToLower(label.Description))
		}
	}
	if tagsField != "" && len(resp.Tags) > 0 {
		resp.Metadata[tagsField] = providers.JoinMultiValues(resp.Tags)
	}
}

func addLandmarks(res *vision.AnnotateImageResponse, resp *providers.Response) {
	landmarks := res.LandmarkAnnotations
	if len(landmarks) == 0 {
		return
	}

	if locs := landmarks[0].Locations; len(locs) > 0 && locs[0].LatLng != nil {
		resp.Metadata["gpsLatitude"] = locs[0].LatLng.Latitude
		resp.Metadata["gpsLongitude"] = locs[0].LatLng.Longitude
	}

	// Google may report the same landmark more than once.
	var names []string
	seen := map[string]bool{}
	for _, l := range landmarks {
		if !seen[l.Description] {
			seen[l.Description] = true
			names = append(names, l.Description)
		}
	}
	resp.Metadata["shownSublocation"] = strings.Join(names, ", ")
}

func addLogos(res *vision.AnnotateImageResponse, resp *providers.Response) {
	if len(res.LogoAnnotations) == 0 {
		return
	}
	var logos []string
	for _, logo := range res.LogoAnnotations {
		if logo.Score >= minLogoScore {
			logos = append(logos, logo.Description)
		}
	}
	resp.Metadata["cf_logos"] = providers.JoinMultiValues(logos)
}

func addTexts(res *vision.AnnotateImageResponse, resp *providers.Response) {
	if len(res.TextAnnotations) == 0 {
		return
	}
	texts := make([]string, 0, len(res.TextAnnotations))
	for _, text := range res.TextAnnotations {
		texts = append(texts, text.Description)
	}
	resp.Metadata["cf_extractedText"] = strings.Join(texts, " ")
}

func addWebDetection(res *vision.AnnotateImageResponse, resp *providers.Response) {
	web := res.WebDetection
	if web == nil {
		return
	}

	addLinks(resp, "cf_fullMatchingImages", imageURLs(web.FullMatchingImages))
	addLinks(resp, "cf_partialMatchingImages", imageURLs(web.PartialMatchingImages))

	pages := make([]string, 0, len(web.PagesWithMatchingImages))
	for _, p := range web.PagesWithMatchingImages {
		pages = append(pages, p.Url)
	}
	addLinks(resp, "cf_pagesWithMatchingImages", pages)

	if len(web.WebEntities) == 0 {
		return
	}
	var entities []string
	for _, e := range web.WebEntities {
		if e.Score >= minWebEntityScore {
			entities = append(entities, e.Description)
		}
	}
	resp.Metadata["cf_webEntities"] = providers.JoinMultiValues(entities)
}

func imageURLs(images []*vision.WebImage) []string {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, img.Url)
	}
	return urls
}

func addLinks(resp *providers.Response, field string, urls []string) {
	if len(urls) == 0 {
		return
	}
	resp.Metadata[field] = providers.JoinMultiValues(urls)
}
