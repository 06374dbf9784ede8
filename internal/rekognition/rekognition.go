package rekognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const (
	DefaultRegion = "eu-west-1"

	minFacePropertyConfidence = 95
	minEmotionConfidence      = 80
	minGenderConfidence       = 95
	maxLabels                 = 20
	minLabelConfidence        = 80
)

// API is the subset of the Rekognition client used here.
type API interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

type Options struct {
	AccessKey       string
	SecretAccessKey string
	Region          string
	TagsField       string
}

// Rekognition detects labels and facial attributes with AWS Rekognition.
type Rekognition struct {
	api       API
	tagsField string
}

// New builds a provider backed by the AWS SDK. Static credentials are used
// when given, otherwise the SDK's default credential chain applies.
func New(ctx context.Context, opts Options) (*Rekognition, error) {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPI(rekognition.NewFromConfig(cfg), opts.TagsField), nil
}

func NewWithAPI(api API, tagsField string) *Rekognition {
	return &Rekognition{api: api, tagsField: tagsField}
}

func (r *Rekognition) Name() string {
	return "aws"
}

func (r *Rekognition) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}
	image := &types.Image{Bytes: data}
	resp := providers.NewResponse()

	faces, err := r.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      image,
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to detect faces: %w", providers.ErrProviderFailure, err)
	}
	// Only the first face is described.
	if len(faces.FaceDetails) > 0 {
		addFace(faces.FaceDetails[0], resp)
	}

	labels, err := r.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         image,
		MaxLabels:     aws.Int32(maxLabels),
		MinConfidence: aws.Float32(minLabelConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to detect labels: %w", providers.ErrProviderFailure, err)
	}
	for _, label := range labels.Labels {
		if name := aws.ToString(label.Name); name != "" {
			resp.Tags = append(resp.Tags, strings.ToLower(name))
		}
	}

	if r.tagsField != "" && len(resp.Tags) > 0 {
		resp.Metadata[r.tagsField] = strings.Join(resp.Tags, ",")
	}
	return resp, nil
}

type faceProperty struct {
	name       string
	value      bool
	confidence *float32
}

func addFace(fd types.FaceDetail, resp *providers.Response) {
	var props []faceProperty
	if fd.Beard != nil {
		props = append(props, faceProperty{"Beard", fd.Beard.Value, fd.Beard.Confidence})
	}
	if fd.Eyeglasses != nil {
		props = append(props, faceProperty{"Eyeglasses", fd.Eyeglasses.Value, fd.Eyeglasses.Confidence})
	}
	if fd.EyesOpen != nil {
		props = append(props, faceProperty{"EyesOpen", fd.EyesOpen.Value, fd.EyesOpen.Confidence})
	}
	if fd.MouthOpen != nil {
		props = append(props, faceProperty{"MouthOpen", fd.MouthOpen.Value, fd.MouthOpen.Confidence})
	}
	if fd.Mustache != nil {
		props = append(props, faceProperty{"Mustache", fd.Mustache.Value, fd.Mustache.Confidence})
	}
	if fd.Smile != nil {
		props = append(props, faceProperty{"Smile", fd.Smile.Value, fd.Smile.Confidence})
	}
	if fd.Sunglasses != nil {
		props = append(props, faceProperty{"Sunglasses", fd.Sunglasses.Value, fd.Sunglasses.Confidence})
	}

	var present []string
	for _, p := range props {
		if p.value && aws.ToFloat32(p.confidence) >= minFacePropertyConfidence {
			present = append(present, p.name)
		}
	}
	if len(present) > 0 {
		resp.Metadata["cf_personProperties"] = strings.Join(present, ",")
	}

	var emotions []string
	for _, e := range fd.Emotions {
		if aws.ToFloat32(e.Confidence) >= minEmotionConfidence {
			emotions = append(emotions, strings.ToLower(string(e.Type)))
		}
	}
	if len(emotions) > 0 {
		resp.Metadata["cf_personEmotions"] = strings.Join(emotions, ",")
	}

	if fd.Gender != nil && aws.ToFloat32(fd.Gender.Confidence) >= minGenderConfidence {
		resp.Metadata["cf_personGender"] = string(fd.Gender.Value)
	}

	if fd.AgeRange != nil {
		if fd.AgeRange.Low != nil {
			resp.Metadata["cf_personAgeMin"] = aws.ToInt32(fd.AgeRange.Low)
		}
		if fd.AgeRange.High != nil {
			resp.Metadata["cf_personAgeMax"] = aws.ToInt32(fd.AgeRange.High)
		}
	}
}
