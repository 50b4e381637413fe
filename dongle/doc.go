// Package dongle manages a single debug-probe session used to exchange text
// with a microcontroller over SEGGER RTT.
//
// A Session owns exactly one probe handle and is the only code that calls
// into the probe Driver. Every Session operation returns an explicit error;
// failures are reported as *DongleError values whose Kind tells the caller
// what happened without looking at driver internals:
//
//	KindConnection  the link to the probe was lost
//	KindChannelIO   a single RTT read or write failed
//	KindDecode      received bytes were not UTF-8 (logged, never returned)
//	KindOther       any other driver fault
//
// # Basic Usage
//
//	cfg := dongle.DefaultConfig()
//	drv := dongle.NewOpenOCD(dongle.DefaultOpenOCDOptions(), cfg.Channel)
//	s := dongle.NewSession(cfg, drv, logrus.StandardLogger())
//
//	info, err := s.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, line := range info.Summary() {
//	    fmt.Println(line)
//	}
//
//	if err := s.WriteLine("help"); err != nil {
//	    log.Fatal(err)
//	}
//	text, err := s.ReadLine()
//
// # OpenOCD Driver
//
// The OpenOCD driver talks to a running OpenOCD over its Tcl RPC port
// (default localhost:6666). Each request is a Tcl script terminated by
// 0x1a and each reply is terminated by 0x1a. RTT data flows through the
// RTT TCP server that the driver starts with "rtt server start".
//
//	Request:  format "%d %s" [catch {target current} _rtt_console_res] $_rtt_console_res\x1a
//	Reply:    0 stm32f4x.cpu\x1a
//
// # Thread Safety
//
// Session and the drivers are not safe for concurrent use. The console
// confines them to its main loop goroutine.
package dongle
