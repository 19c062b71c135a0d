package http

// Built-in paywall pages. They are deliberately self-contained: no external
// assets, styling inline, and all runtime data read from the window.p402
// config injected by injectPaywallConfig.

// EVMPaywallTemplate is the browser paywall for eip155 networks.
const EVMPaywallTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Required</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f5f6f8; margin: 0; }
  .paywall { max-width: 420px; margin: 12vh auto 0; background: #fff; border-radius: 12px; padding: 32px; box-shadow: 0 1px 4px rgba(0,0,0,.08); text-align: center; }
  .paywall img { max-height: 48px; margin-bottom: 16px; }
  .paywall h1 { font-size: 20px; margin: 0 0 8px; }
  .paywall .description { color: #555; margin: 0 0 24px; }
  .paywall .amount { font-size: 32px; font-weight: 600; margin: 0 0 24px; }
  .paywall button { width: 100%; padding: 12px; font-size: 16px; border: 0; border-radius: 8px; background: #1652f0; color: #fff; cursor: pointer; }
  .paywall .hint { color: #888; font-size: 13px; margin-top: 16px; }
</style>
</head>
<body>
<main class="paywall">
  <img id="app-logo" alt="" hidden>
  <h1 id="app-name">Payment Required</h1>
  <p id="description" class="description">This content requires payment to access.</p>
  <p class="amount">$<span id="amount">0.00</span> <span class="asset">USDC</span></p>
  <button id="pay-button">Connect wallet &amp; pay</button>
  <p class="hint">Pay with an Ethereum wallet. You will be asked to sign a transfer authorization; nothing moves until the server settles it.</p>
</main>
<script>
  document.addEventListener('DOMContentLoaded', function () {
    var cfg = window.p402 || {};
    if (cfg.appName) { document.getElementById('app-name').textContent = cfg.appName; }
    if (cfg.appLogo) {
      var logo = document.getElementById('app-logo');
      logo.src = cfg.appLogo;
      logo.hidden = false;
    }
    if (typeof cfg.amount === 'number') {
      document.getElementById('amount').textContent = cfg.amount.toFixed(2);
    }
    var required = cfg.paymentRequired || {};
    if (required.resource && required.resource.description) {
      document.getElementById('description').textContent = required.resource.description;
    }
    document.getElementById('pay-button').addEventListener('click', function () {
      if (!window.ethereum) {
        alert('No Ethereum wallet detected. Install a wallet extension and reload.');
        return;
      }
      window.ethereum.request({ method: 'eth_requestAccounts' });
    });
  });
</script>
</body>
</html>`

// SVMPaywallTemplate is the browser paywall for solana networks.
const SVMPaywallTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Required</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f5f6f8; margin: 0; }
  .paywall { max-width: 420px; margin: 12vh auto 0; background: #fff; border-radius: 12px; padding: 32px; box-shadow: 0 1px 4px rgba(0,0,0,.08); text-align: center; }
  .paywall img { max-height: 48px; margin-bottom: 16px; }
  .paywall h1 { font-size: 20px; margin: 0 0 8px; }
  .paywall .description { color: #555; margin: 0 0 24px; }
  .paywall .amount { font-size: 32px; font-weight: 600; margin: 0 0 24px; }
  .paywall button { width: 100%; padding: 12px; font-size: 16px; border: 0; border-radius: 8px; background: #512da8; color: #fff; cursor: pointer; }
  .paywall .hint { color: #888; font-size: 13px; margin-top: 16px; }
</style>
</head>
<body>
<main class="paywall">
  <img id="app-logo" alt="" hidden>
  <h1 id="app-name">Payment Required</h1>
  <p id="description" class="description">This content requires payment to access.</p>
  <p class="amount">$<span id="amount">0.00</span> <span class="asset">USDC</span></p>
  <button id="pay-button">Connect wallet &amp; pay</button>
  <p class="hint">Pay with a Solana wallet. You will be asked to sign a transaction; nothing moves until the server settles it.</p>
</main>
<script>
  document.addEventListener('DOMContentLoaded', function () {
    var cfg = window.p402 || {};
    if (cfg.appName) { document.getElementById('app-name').textContent = cfg.appName; }
    if (cfg.appLogo) {
      var logo = document.getElementById('app-logo');
      logo.src = cfg.appLogo;
      logo.hidden = false;
    }
    if (typeof cfg.amount === 'number') {
      document.getElementById('amount').textContent = cfg.amount.toFixed(2);
    }
    var required = cfg.paymentRequired || {};
    if (required.resource && required.resource.description) {
      document.getElementById('description').textContent = required.resource.description;
    }
    document.getElementById('pay-button').addEventListener('click', function () {
      var provider = window.phantom && window.phantom.solana;
      if (!provider) {
        alert('No Solana wallet detected. Install a wallet extension and reload.');
        return;
      }
      provider.connect();
    });
  });
</script>
</body>
</html>`
