// Package ucp loads universal checkpoints into a tensor-parallel, mixed-precision
// training run.
//
// A universal checkpoint stores every parameter unsharded, independent of the
// parallelism it was trained with:
//
//	<checkpoint>/zero/optimizer_state.pt          global optimizer state (msgpack)
//	<checkpoint>/zero/<param name>/fp32.pt        full FP32 weight
//	<checkpoint>/zero/<param name>/exp_avg.pt     optimizer moments, one file per key
//	<checkpoint>/zero/<param name>/step.pt        optional step counter
//
// At load time each rank cuts its own tensor-parallel slice out of every full
// tensor, narrows it to the fragment owned by each local low-precision
// parameter, and installs the result into the flat optimizer partitions.
//
// Typical use:
//
//	params := [][]*ucp.Param{...} // one slice per optimizer param group
//	cfg, err := ucp.ShapeConfigFromEnv()
//	if err != nil {
//	    return err
//	}
//	if err := ucp.LoadFromCheckpointDir(opt, params, dir, cfg); err != nil {
//	    return err
//	}
//	if err := ucp.SyncLPParams(params); err != nil {
//	    return err
//	}
package ucp
