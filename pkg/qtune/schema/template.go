package schema

// Template is the documented starting document written by "qtune init".
// Every optional key is shown with its default.
const Template = `# qtune tuning configuration
# Optional keys are shown with their defaults. Lists accept either a YAML
# sequence or a comma separated value ("10, 50").

framework:
  name: tensorflow          # tensorflow, mxnet, pytorch or a registered backend
  inputs: input             # required for tensorflow
  outputs: predict          # required for tensorflow

device: cpu                 # cpu or gpu

calibration:                # required for post_training_static_quant
  iterations: 100           # e.g. 10, 50
  algorithm:
    weight: minmax          # minmax, kl
    activation: minmax      # minmax, kl

quantization:
  approach: post_training_static_quant  # post_training_dynamic_quant, quant_aware_training
  weight:
    granularity: per_channel  # per_channel, per_tensor
    scheme: asym              # asym, sym
    dtype: int8               # int8, uint8, fp32, bf16
  activation:
    granularity: per_tensor
    scheme: asym
    dtype: int8
  # op_wise:
  #   conv1:
  #     activation:
  #       dtype: fp32

tuning:
  strategy: basic           # basic, random, exhaustive, bayesian, mse
  metric:
    topk: 1                 # or a registered metric
  accuracy_criterion:
    relative: 0.01          # or absolute: 0.005
  objective: performance    # performance, modelsize, footprint
  timeout: 0                # seconds, 0 means no timeout
  max_trials: 100
  random_seed: 1978

# snapshot:
#   path: ~/qtune/snapshots
`
