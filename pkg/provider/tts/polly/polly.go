// Package polly provides an Amazon Polly TTS provider. Polly returns raw
// 16-bit mono PCM when asked for the "pcm" output format, which the speaker
// plays without any decoding step.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Client is the subset of the Polly API used by Provider.
type Client interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// ErrThrottled is wrapped into errors caused by Polly rate limiting.
var ErrThrottled = errors.New("polly: throttled")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithRegion sets the AWS region. Defaults to "us-east-1".
func WithRegion(region string) Option {
	return func(p *Provider) { p.region = region }
}

// WithEngine selects "standard" or "neural". Defaults to "neural".
func WithEngine(engine string) Option {
	return func(p *Provider) { p.engine = engine }
}

// WithSampleRate sets the PCM output rate. Polly accepts 8000 and 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithClient injects a Polly client instead of loading the default AWS config.
func WithClient(c Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements tts.Provider backed by Amazon Polly.
type Provider struct {
	mu         sync.Mutex
	client     Client
	region     string
	engine     string
	sampleRate int
}

// New creates a Provider. The AWS client is created lazily on first use from
// the default credential chain unless [WithClient] is given.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{region: "us-east-1", engine: "neural", sampleRate: 16000}
	for _, o := range opts {
		o(p)
	}
	if p.sampleRate != 8000 && p.sampleRate != 16000 {
		return nil, fmt.Errorf("polly: unsupported PCM sample rate %d", p.sampleRate)
	}
	if !strings.EqualFold(p.engine, "neural") && !strings.EqualFold(p.engine, "standard") {
		return nil, fmt.Errorf("polly: unknown engine %q", p.engine)
	}
	return p, nil
}

func (p *Provider) pollyEngine() pollytypes.Engine {
	if strings.EqualFold(p.engine, "standard") {
		return pollytypes.EngineStandard
	}
	return pollytypes.EngineNeural
}

func (p *Provider) resolveClient(ctx context.Context) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(cfg)
	return p.client, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Speech{}, errors.New("polly: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = "Joanna"
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return tts.Speech{}, err
	}

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       p.pollyEngine(),
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   aws.String(strconv.Itoa(p.sampleRate)),
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voiceID),
	})
	if err != nil {
		return tts.Speech{}, classify(err)
	}
	if out == nil || out.AudioStream == nil {
		return tts.Speech{}, errors.New("polly: empty audio stream")
	}
	defer out.AudioStream.Close()
	pcm, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("polly: read audio stream: %w", err)
	}
	return tts.Speech{PCM: pcm, SampleRate: p.sampleRate, Channels: 1}, nil
}

// ListVoices implements tts.Provider. Only voices supporting the configured
// engine are returned.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out   []tts.VoiceProfile
		token *string
	)
	for {
		resp, err := client.DescribeVoices(ctx, &polly.DescribeVoicesInput{Engine: p.pollyEngine(), NextToken: token})
		if err != nil {
			return nil, classify(err)
		}
		for _, v := range resp.Voices {
			out = append(out, tts.VoiceProfile{
				ID:       string(v.Id),
				Name:     aws.ToString(v.Name),
				Provider: "polly",
				Metadata: map[string]string{
					"gender":   string(v.Gender),
					"language": string(v.LanguageCode),
				},
			})
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			return out, nil
		}
		token = resp.NextToken
	}
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "TooManyRequestsException" || apiErr.ErrorCode() == "ThrottlingException" {
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		}
		return fmt.Errorf("polly: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("polly: %w", err)
}
