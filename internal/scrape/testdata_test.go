package scrape

const hiltonPage = `<!DOCTYPE html>
<html>
<head><title>Hilton Anchorage</title></head>
<body>
  <div class="text-balance"><h1 data-testid="hotel-name">Hilton Anchorage</h1></div>
  <div data-testid="hotel-description">Downtown hotel   with views of
    Cook Inlet and the Chugach Mountains.</div>
  <div data-testid="property-address">500 West Third Avenue, Anchorage, Alaska, 99501, USA</div>
  <a data-testid="property-phone" href="tel:+1 907-272-7411">Call the hotel</a>
  <ul>
    <li><span data-testid="grid-item-label-0">Fitness center</span></li>
    <li><span data-testid="grid-item-label-1">Pet friendly</span></li>
    <li><span data-testid="grid-item-label-2">Fitness center</span></li>
  </ul>
  <div id="tab-panel-policies-tab-0">
    <ul>
      <li><p>Self parking</p><p>$30 per night</p></li>
      <li><p>Valet</p><p>Not available</p></li>
    </ul>
  </div>
  <div id="tab-panel-policies-tab-1">
    <ul>
      <li><p>Pets allowed</p><p>Dogs and cats</p></li>
      <li><p>Non-refundable pet fee</p><p>$75 per stay</p></li>
      <li><p>Max weight</p><p>75 lbs</p></li>
      <li><p>Service animals welcome</p></li>
    </ul>
  </div>
</body>
</html>`

const unknownChainPage = `<!DOCTYPE html>
<html>
<head>
  <title>Harbor Inn</title>
  <meta name="description" content="A small   waterfront inn.">
</head>
<body>
  <h1>Harbor Inn</h1>
  <address>12 Dock Street, Portland, ME 04101</address>
  <a href="tel:207-555-0100">207-555-0100</a>
  <ul class="pets-policy"><li>Dogs under 25 lbs welcome</li></ul>
</body>
</html>`
