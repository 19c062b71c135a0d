// The facilitator binary serves payment verification and settlement over
// HTTP for every mechanism it holds keys for.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/p402-io/p402"
	"github.com/p402-io/p402/internal/cache"
	"github.com/p402-io/p402/internal/config"
	"github.com/p402-io/p402/internal/health"
	"github.com/p402-io/p402/internal/metrics"
	"github.com/p402-io/p402/internal/ratelimit"
	"github.com/p402-io/p402/internal/server"
	evmfac "github.com/p402-io/p402/mechanisms/evm/exact/facilitator"
	"github.com/p402-io/p402/mechanisms/hypercore"
	hyperfac "github.com/p402-io/p402/mechanisms/hypercore/exact/facilitator"
	"github.com/p402-io/p402/mechanisms/svm"
	svmfac "github.com/p402-io/p402/mechanisms/svm/exact/facilitator"
)

const version = "2.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting facilitator",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	ctx := context.Background()

	checker := health.NewChecker(version)

	// Redis backs rate limiting; the facilitator itself works without it.
	var limiter ratelimit.Limiter
	redisClient, err := cache.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window())
		checker.AddProbe(health.Probe{Name: "redis", Critical: false, Check: redisClient.Ping})
		logger.Info("redis connected", zap.Int("rate_limit", cfg.RateLimit.Requests))
	}

	facilitator, err := setupFacilitator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("facilitator setup failed", zap.Error(err))
	}

	srv := server.New(server.Options{
		Facilitator: facilitator,
		Logger:      logger,
		Metrics:     metrics.New(),
		Limiter:     limiter,
		Health:      checker,
		Port:        cfg.Server.Port,
		Production:  cfg.IsProduction(),
	})
	if err := srv.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// setupFacilitator registers a mechanism for every chain family the
// configuration carries keys for.
func setupFacilitator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*p402.P402Facilitator, error) {
	facilitator := p402.NewP402Facilitator(p402.WithFacilitatorLogger(logger))
	var configured []string

	if cfg.Evm.PrivateKey != "" {
		if cfg.Evm.RPCURL == "" {
			logger.Warn("EVM_RPC_URL not set, EVM networks disabled")
		} else {
			signer, err := newEvmSigner(ctx, cfg.Evm.PrivateKey, cfg.Evm.RPCURL)
			if err != nil {
				return nil, fmt.Errorf("evm signer: %w", err)
			}
			networks := make([]p402.Network, 0, len(cfg.Evm.Networks))
			for _, n := range cfg.Evm.Networks {
				networks = append(networks, p402.Network(n))
				configured = append(configured, n)
			}
			facilitator.Register(networks, evmfac.NewExactEvmScheme(signer))
			logger.Info("evm mechanism registered",
				zap.Strings("networks", cfg.Evm.Networks),
				zap.String("address", signer.GetAddresses()[0]),
			)
		}
	}

	if cfg.Svm.PrivateKey != "" {
		signer, err := newSvmSigner(cfg.Svm.PrivateKey, cfg.Svm.Networks, cfg.Svm.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("svm signer: %w", err)
		}
		networks := make([]p402.Network, 0, len(cfg.Svm.Networks))
		for _, n := range cfg.Svm.Networks {
			networks = append(networks, p402.Network(n))
			configured = append(configured, n)
		}
		facilitator.Register(networks, svmfac.NewExactSvmScheme(signer))
		addrs := signer.GetAddresses(ctx, svm.SolanaMainnetCAIP2)
		logger.Info("svm mechanism registered",
			zap.Strings("networks", cfg.Svm.Networks),
			zap.String("fee_payer", addrs[0].String()),
		)
	}

	if cfg.Hypercore.Enabled {
		networks := []p402.Network{hypercore.NetworkMainnet, hypercore.NetworkTestnet}
		if cfg.Hypercore.APIURL != "" {
			facilitator.Register(networks, hyperfac.NewExactHypercoreScheme(cfg.Hypercore.APIURL))
		} else {
			facilitator.Register(networks, hyperfac.NewExactHypercoreScheme())
		}
		for _, n := range networks {
			configured = append(configured, string(n))
		}
		logger.Info("hypercore mechanism registered")
	}

	if len(configured) == 0 {
		return nil, fmt.Errorf("no networks configured: set EVM_PRIVATE_KEY, SVM_PRIVATE_KEY, or HYPERCORE_ENABLED")
	}
	logger.Info("networks configured", zap.Strings("networks", configured))

	facilitator.OnAfterVerify(func(hookCtx p402.FacilitatorVerifyResultContext) error {
		logger.Info("payment verified",
			zap.String("network", string(hookCtx.Network)),
			zap.String("scheme", hookCtx.Scheme),
			zap.String("payer", hookCtx.Result.Payer),
			zap.Bool("valid", hookCtx.Result.IsValid),
			zap.Duration("duration", hookCtx.Duration),
		)
		return nil
	})
	facilitator.OnAfterSettle(func(hookCtx p402.FacilitatorSettleResultContext) error {
		logger.Info("payment settled",
			zap.String("network", string(hookCtx.Network)),
			zap.String("transaction", hookCtx.Result.Transaction),
			zap.String("payer", hookCtx.Result.Payer),
			zap.Duration("duration", hookCtx.Duration),
		)
		return nil
	})
	facilitator.OnVerifyFailure(func(hookCtx p402.FacilitatorVerifyFailureContext) (*p402.FacilitatorVerifyFailureHookResult, error) {
		logger.Warn("verify failed",
			zap.String("network", string(hookCtx.Network)),
			zap.Error(hookCtx.Error),
		)
		return nil, nil
	})
	facilitator.OnSettleFailure(func(hookCtx p402.FacilitatorSettleFailureContext) (*p402.FacilitatorSettleFailureHookResult, error) {
		logger.Warn("settle failed",
			zap.String("network", string(hookCtx.Network)),
			zap.Error(hookCtx.Error),
		)
		return nil, nil
	})

	return facilitator, nil
}
