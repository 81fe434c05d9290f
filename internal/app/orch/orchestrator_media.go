package orch

import "context"

func (o *Orchestrator) ToggleAudio(on bool) error {
	eng, err := o.current()
	if err != nil {
		return err
	}
	eng.ToggleAudio(on)
	return nil
}

func (o *Orchestrator) ToggleVideo(on bool) error {
	eng, err := o.current()
	if err != nil {
		return err
	}
	eng.ToggleVideo(on)
	return nil
}

// StartScreenShare reports false without error when the platform cannot
// share; the camera stays on in that case.
func (o *Orchestrator) StartScreenShare(ctx context.Context) (bool, error) {
	eng, err := o.current()
	if err != nil {
		return false, err
	}
	return eng.StartScreenShare(ctx), nil
}

func (o *Orchestrator) StopScreenShare() error {
	eng, err := o.current()
	if err != nil {
		return err
	}
	eng.StopScreenShare()
	return nil
}
