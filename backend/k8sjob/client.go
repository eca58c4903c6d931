package k8sjob

import (
	"net/http"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/batchctl/batchctl/pkg/ratelimit"
)

// ClientConfig configures the production path to a kubernetes.Interface:
// an in-cluster config when Kubeconfig is empty, otherwise the named
// kubeconfig file, with every outbound call paced through pkg/ratelimit.
type ClientConfig struct {
	Kubeconfig string
	Context    string

	RateLimit ratelimit.Config
}

// NewClientset builds a kubernetes.Interface suitable for Config.Clientset,
// with a paced transport hung under the REST client so submit/cancel/poll
// bursts never hammer the API server.
func NewClientset(cfg ClientConfig) (kubernetes.Interface, error) {
	restCfg, err := loadRESTConfig(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return nil, err
	}

	limits := cfg.RateLimit
	if limits.MaxInFlight <= 0 {
		limits = defaultRateLimits
	}
	wrapWithPacer(restCfg, limits)

	return kubernetes.NewForConfig(restCfg)
}

// wrapWithPacer hangs a ratelimit.Transport under every outbound call the
// clientset will make.
func wrapWithPacer(restCfg *rest.Config, cfg ratelimit.Config) {
	pacer := ratelimit.NewPacer(cfg)
	restCfg.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
		return ratelimit.NewTransport(rt, pacer)
	}
}

var defaultRateLimits = ratelimit.Config{
	MinInterval: 20 * time.Millisecond,
	MaxInFlight: 16,
	BackoffBase: 500 * time.Millisecond,
	BackoffCap:  30 * time.Second,
}

func loadRESTConfig(kubeconfig, context string) (*rest.Config, error) {
	if kubeconfig == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}
