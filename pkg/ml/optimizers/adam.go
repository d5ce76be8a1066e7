// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	gomlxopt "github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/lambdal/towers/pkg/ml/config"
)

// Hyperparameters of Adam and RMSProp, read from the "train" section.
const (
	// ParamAdamEpsilon is used to avoid division by zero. Default 1e-7.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 is the decay of the first moment. Default 0.9.
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the decay of the second moment. Default 0.999.
	ParamAdamBeta2 = "adam_beta2"

	// ParamRMSPropDecay is the decay of the moving average of squared gradients. Default 0.9.
	ParamRMSPropDecay = "rmsprop_decay"
)

// AdamConfig configures gomlx's Adam, or RMSProp, which shares its second-moment machinery.
// Create it with Adam or RMSProp, and finish with Done.
type AdamConfig struct {
	beta1, beta2 float64
	epsilon      float64
	rmsProp      bool
}

// Adam returns the configuration of an Adam optimizer, with the usual defaults.
// See "Adam: A Method for Stochastic Optimization", https://arxiv.org/abs/1412.6980
func Adam() *AdamConfig {
	return &AdamConfig{beta1: 0.9, beta2: 0.999, epsilon: 1e-7}
}

// RMSProp returns the configuration of an RMSProp optimizer: it keeps only a moving average
// of the squared gradients, decayed by beta2 (default 0.9).
func RMSProp() *AdamConfig {
	return &AdamConfig{beta2: 0.9, epsilon: 1e-7, rmsProp: true}
}

// Betas sets the decays of the first and second moments. beta1 is ignored by RMSProp.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon sets the value added to the denominator of the update.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// FromConfig reads the hyperparameters set in the "train" section of the configuration.
func (c *AdamConfig) FromConfig(cfg *config.Config) (*AdamConfig, error) {
	var err error
	if c.epsilon, err = cfg.FloatOr(config.SectionTrain, ParamAdamEpsilon, c.epsilon); err != nil {
		return nil, err
	}
	if c.rmsProp {
		if c.beta2, err = cfg.FloatOr(config.SectionTrain, ParamRMSPropDecay, c.beta2); err != nil {
			return nil, err
		}
		return c, nil
	}
	if c.beta1, err = cfg.FloatOr(config.SectionTrain, ParamAdamBeta1, c.beta1); err != nil {
		return nil, err
	}
	if c.beta2, err = cfg.FloatOr(config.SectionTrain, ParamAdamBeta2, c.beta2); err != nil {
		return nil, err
	}
	return c, nil
}

// Done returns the gomlx optimizer, with the given base learning rate. Its moments are kept
// under "/adam", along with its own step counter used for the bias correction.
func (c *AdamConfig) Done(learningRate float64) Interface {
	var builder *gomlxopt.AdamConfig
	if c.rmsProp {
		builder = gomlxopt.RMSProp()
	} else {
		builder = gomlxopt.Adam()
	}
	builder = builder.LearningRate(learningRate).Betas(c.beta1, c.beta2).Epsilon(c.epsilon)
	return withGradients(builder.Done())
}

func adamFromConfig(cfg *config.Config, learningRate float64) (Interface, error) {
	c, err := Adam().FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return c.Done(learningRate), nil
}

func rmsPropFromConfig(cfg *config.Config, learningRate float64) (Interface, error) {
	c, err := RMSProp().FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return c.Done(learningRate), nil
}
