package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
	maxReplySize     = 1500
)

var echoPayload = []byte("statusbot-echo")

// ICMPPinger sends ICMP echo requests. In unprivileged mode it uses datagram
// ICMP sockets, which on Linux requires net.ipv4.ping_group_range to include
// the process group; privileged mode uses raw sockets.
type ICMPPinger struct {
	Privileged bool

	id  int
	seq atomic.Uint32
}

func NewICMPPinger(privileged bool) *ICMPPinger {
	return &ICMPPinger{
		Privileged: privileged,
		id:         os.Getpid() & 0xffff,
	}
}

type family struct {
	network  string
	listen   string
	protocol int
	request  icmp.Type
	reply    icmp.Type
}

func (p *ICMPPinger) family(ip net.IP) family {
	if ip.To4() != nil {
		f := family{network: "udp4", listen: "0.0.0.0", protocol: protocolICMP, request: ipv4.ICMPTypeEcho, reply: ipv4.ICMPTypeEchoReply}
		if p.Privileged {
			f.network = "ip4:icmp"
		}
		return f
	}
	f := family{network: "udp6", listen: "::", protocol: protocolIPv6ICMP, request: ipv6.ICMPTypeEchoRequest, reply: ipv6.ICMPTypeEchoReply}
	if p.Privileged {
		f.network = "ip6:ipv6-icmp"
	}
	return f
}

func (p *ICMPPinger) Echo(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ip, err := resolve(ctx, address)
	if err != nil {
		return 0, err
	}
	fam := p.family(ip)

	conn, err := icmp.ListenPacket(fam.network, fam.listen)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", fam.network, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, fmt.Errorf("set deadline: %w", err)
		}
	}

	seq := int(p.seq.Add(1) & 0xffff)
	request := icmp.Message{
		Type: fam.request,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: echoPayload},
	}
	wire, err := request.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if p.Privileged {
		dst = &net.IPAddr{IP: ip}
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return 0, fmt.Errorf("send echo: %w", err)
	}

	buf := make([]byte, maxReplySize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, fmt.Errorf("read reply: %w", err)
		}
		reply, err := icmp.ParseMessage(fam.protocol, buf[:n])
		if err != nil || reply.Type != fam.reply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// Datagram sockets get their ID rewritten by the kernel.
		if p.Privileged && echo.ID != p.id {
			continue
		}
		return time.Since(start), nil
	}
}

func resolve(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, errors.New("resolve " + address + ": no addresses")
}
