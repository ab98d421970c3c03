package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/logging"
	"github.com/jive5ab/chaincore/internal/udps"
)

const (
	senderQueueCapacity = 64
)

// runDemo assembles the sender and receiver chains described by cli,
// drives them to completion (or until ctx is cancelled), and returns the
// accumulated result.
func runDemo(ctx context.Context, cli CLI, logger *logging.Logger) (*demoResult, error) {
	res := &demoResult{}

	sock, err := udps.Listen("udp", fmt.Sprintf(":%d", cli.Port))
	if err != nil {
		return nil, fmt.Errorf("chaindemo: listen :%d: %w", cli.Port, err)
	}

	receiverPool := chaincore.NewBlockpoolWithChunkSize(cli.WindowN*cli.FrameSize+cli.WindowN, cli.Readahead+2)
	stats := udps.NewStatsTable()

	receiverChain := chaincore.NewChain("receiver")

	var receiverState *udps.ReceiverState
	bottomCfg := udps.Config{
		Conn:      sock,
		Rd:        cli.FrameSize,
		Wr:        cli.FrameSize,
		N:         cli.WindowN,
		R:         cli.Readahead,
		ACKPeriod: cli.ACKPeriod,

		AllowVariableBlockSize: true,

		Pool:  receiverPool,
		Stats: stats,

		Logger:   logger,
		Observer: chaincore.NewMetricsObserver(receiverChain.Metrics()),
	}
	bottomID, err := chaincore.AddProducer[*chaincore.Block, *udps.ReceiverState](
		receiverChain, cli.Readahead, 1,
		func() *udps.ReceiverState {
			receiverState = udps.NewReceiverState(bottomCfg)
			return receiverState
		},
		func(*udps.ReceiverState) {},
		udps.RunBottomHalf,
	)
	if err != nil {
		return nil, fmt.Errorf("chaindemo: add bottom half: %w", err)
	}
	if err := receiverChain.SetCancelHook(bottomID, func() { sock.Close() }); err != nil {
		return nil, fmt.Errorf("chaindemo: set cancel hook: %w", err)
	}

	topCfg := udps.TopHalfConfig{
		N:      cli.WindowN,
		Wr:     cli.FrameSize,
		Rd:     cli.FrameSize,
		Format: cli.Format,

		Logger:   logger,
		Observer: chaincore.NewMetricsObserver(receiverChain.Metrics()),
	}
	if _, err := chaincore.AddIntermediate[*chaincore.Block, *chaincore.Block, *udps.TopHalfState](
		receiverChain, cli.Readahead, 1,
		func() *udps.TopHalfState { return udps.NewTopHalfState(topCfg) },
		func(*udps.TopHalfState) {},
		udps.RunTopHalf,
	); err != nil {
		return nil, fmt.Errorf("chaindemo: add top half: %w", err)
	}

	checkerMaker, checkerDeleter := newCheckerMaker(cli.FrameSize, cli.WindowN, cli.ResyncAfter, cli.Format)
	if _, err := chaincore.AddConsumer[*chaincore.Block, *checkerState](
		receiverChain, 1,
		checkerMaker, checkerDeleter,
		makeChecker(res),
	); err != nil {
		return nil, fmt.Errorf("chaindemo: add checker: %w", err)
	}

	senderChain := chaincore.NewChain("sender")
	framePool := chaincore.NewBlockpool(cli.FrameSize)
	genMaker, genDeleter := newFrameGenMaker(framePool, cli.NumFrames)
	if _, err := chaincore.AddProducer[*chaincore.Block, *frameGenState](
		senderChain, senderQueueCapacity, 1, genMaker, genDeleter, runFrameGen,
	); err != nil {
		return nil, fmt.Errorf("chaindemo: add frame generator: %w", err)
	}

	var sendSt *senderState
	senderMaker, senderDeleter := newSenderMaker(senderConfig{
		Addr:        fmt.Sprintf("127.0.0.1:%d", cli.Port),
		DropEvery:   cli.DropEvery,
		ResyncAfter: cli.ResyncAfter,
		IPD:         cli.IPD,
		Logger:      logger,
	}, cli.FrameSize)
	if _, err := chaincore.AddConsumer[*chaincore.Block, *senderState](
		senderChain, 1,
		func() *senderState { sendSt = senderMaker(); return sendSt },
		senderDeleter,
		runSender,
	); err != nil {
		return nil, fmt.Errorf("chaindemo: add sender: %w", err)
	}

	if err := receiverChain.Run(); err != nil {
		return nil, fmt.Errorf("chaindemo: run receiver: %w", err)
	}
	if err := senderChain.Run(); err != nil {
		return nil, fmt.Errorf("chaindemo: run sender: %w", err)
	}

	senderDone := make(chan struct{})
	go func() {
		senderChain.Wait()
		close(senderDone)
	}()

	select {
	case <-senderDone:
		logger.Info("chaindemo: sender finished, draining receiver")
		time.Sleep(cli.Drain)
	case <-ctx.Done():
		logger.Info("chaindemo: cancelled before sender finished")
	}

	if err := senderChain.Stop(); err != nil {
		logger.Warnf("chaindemo: stop sender: %v", err)
	}
	if err := receiverChain.Stop(); err != nil {
		logger.Warnf("chaindemo: stop receiver: %v", err)
	}

	if sendSt != nil {
		res.FramesSent = sendSt.framesSent
		res.FramesDropped = sendSt.framesDropped
	}
	if receiverState != nil {
		res.Discarded = receiverState.Discarded()
		res.Jumps = receiverState.Jumps()
	}

	return res, nil
}
