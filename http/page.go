package http

import (
	"bytes"
	"encoding/hex"
	"html/template"

	"github.com/stcchain/evmpay"
)

// PageData is what a PageRenderer receives for the order-received page.
type PageData struct {
	Title        string
	Description  string
	Order        *evmpay.Order
	NeedsPayment bool

	// Set only when NeedsPayment is true
	Config       *evmpay.PaymentConfig
	TransferData string
	SettleURL    string
}

// PageRenderer generates the HTML for the order-received page. Register a
// custom implementation with WithPageRenderer to replace the built-in one.
type PageRenderer interface {
	Render(data PageData) (string, error)
}

// TemplatePage renders PageData with an html/template.
type TemplatePage struct {
	tmpl *template.Template
}

// NewTemplatePage parses src as the page template.
func NewTemplatePage(src string) (*TemplatePage, error) {
	tmpl, err := template.New("order-received").Parse(src)
	if err != nil {
		return nil, err
	}
	return &TemplatePage{tmpl: tmpl}, nil
}

// DefaultPageRenderer returns the built-in MetaMask payment page.
func DefaultPageRenderer() PageRenderer {
	return &TemplatePage{tmpl: template.Must(template.New("order-received").Parse(defaultPageTemplate))}
}

// Render executes the template.
func (p *TemplatePage) Render(data PageData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeCalldata(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

// The script only drives the wallet: the transfer calldata is encoded
// server-side and the settlement call goes back through RouteSettle.
const defaultPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
<div id="evm-payment-container" class="evm-payment-wrapper">
{{- if .NeedsPayment}}
<h2>Complete Your Token Payment</h2>
<p>{{.Description}}</p>
<p>Order #{{.Order.ID}}: {{.Order.Total.StringFixed 2}} {{.Order.Currency}}</p>
<div id="evm-payment-error" class="woocommerce-error" style="display:none;"></div>
<button id="evm-pay-button" class="button alt">Pay with MetaMask</button>
<script>
(function () {
  "use strict";
  var cfg = {{.Config}};
  var transferData = {{.TransferData}};
  var settleURL = {{.SettleURL}};
  var box = document.getElementById("evm-payment-error");

  function show(message, ok) {
    box.textContent = message;
    box.style.display = "block";
    box.className = ok ? "woocommerce-message" : "woocommerce-error";
  }

  async function pay() {
    if (!window.ethereum) {
      show("MetaMask not detected! Please install MetaMask first.");
      return;
    }
    try {
      var accounts = await window.ethereum.request({ method: "eth_requestAccounts" });
      if (!accounts || accounts.length === 0) {
        show("No accounts available");
        return;
      }
      var chainId = await window.ethereum.request({ method: "eth_chainId" });
      if (String(parseInt(chainId, 16)) !== String(parseInt(cfg.networkId, 10))) {
        show("Please switch to network " + cfg.networkId);
        return;
      }
      var tx = await window.ethereum.request({
        method: "eth_sendTransaction",
        params: [{ from: accounts[0], to: cfg.contractAddress, data: transferData }]
      });

      var body = new FormData();
      body.append("action", "verify_evm_payment");
      body.append("nonce", cfg.nonce);
      body.append("order_id", cfg.orderId);
      body.append("tx", tx);
      var response = await fetch(settleURL, { method: "POST", body: body, credentials: "same-origin" });
      if (!response.ok) {
        throw new Error("HTTP error! status: " + response.status);
      }
      var result = await response.json();
      if (!result.success) {
        throw new Error(result.data.message || "Payment verification failed");
      }
      show("Payment successful! Redirecting...", true);
      setTimeout(function () { window.location.href = result.data.redirect; }, 2000);
    } catch (err) {
      show(err.code === 4001 ? "Transaction was rejected by user." : err.message);
    }
  }

  document.getElementById("evm-pay-button").addEventListener("click", pay);
  if (window.ethereum && window.ethereum.on) {
    window.ethereum.on("chainChanged", function () { window.location.reload(); });
    window.ethereum.on("accountsChanged", function () { window.location.reload(); });
  }
})();
</script>
{{- else}}
<h2>Thank you. Your order has been received.</h2>
<p>Order #{{.Order.ID}} is {{.Order.Status}}.</p>
{{- end}}
</div>
</body>
</html>
`
